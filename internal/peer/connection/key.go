package connection

// keySeparator joins the two endpoint addresses of a link.
const keySeparator = "<->"

// Key returns the order-independent key of the link between two addresses:
// the lexicographically smaller of "a<->b" and "b<->a". Both ends of a TCP
// connection compute the same key.
func Key(local, remote string) string {
	forward := local + keySeparator + remote
	reverse := remote + keySeparator + local
	if reverse < forward {
		return reverse
	}
	return forward
}
