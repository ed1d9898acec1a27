package discovery

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

// Zone is a minimal authoritative responder for the _aaarepl._tcp SRV
// records of one cluster domain. Small deployments without managed DNS can
// point every node's SRV source at one node running a Zone.
type Zone struct {
	domain string

	mu      sync.RWMutex
	records map[string]*srvRecord // target -> record

	server *dns.Server
}

type srvRecord struct {
	Target   string
	IP       net.IP
	Port     uint16
	Priority uint16
	Weight   uint16
}

// NewZone creates an empty zone for domain.
func NewZone(domain string) *Zone {
	return &Zone{
		domain:  strings.TrimSuffix(domain, "."),
		records: make(map[string]*srvRecord),
	}
}

// Publish adds or replaces the SRV record for a node. addr is the node's
// replication address; if its host is an IP it is also returned as glue.
func (z *Zone) Publish(target, addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return fmt.Errorf("invalid port in address %q: %w", addr, err)
	}

	record := &srvRecord{
		Target:   dns.Fqdn(target),
		IP:       net.ParseIP(host),
		Port:     uint16(port),
		Priority: 10,
		Weight:   10,
	}

	z.mu.Lock()
	z.records[record.Target] = record
	z.mu.Unlock()

	log.Info().
		Str("target", target).
		Uint16("port", record.Port).
		Msg("published replication SRV record")

	return nil
}

// Unpublish removes a node's SRV record.
func (z *Zone) Unpublish(target string) {
	z.mu.Lock()
	delete(z.records, dns.Fqdn(target))
	z.mu.Unlock()
}

// Len returns the number of published records.
func (z *Zone) Len() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return len(z.records)
}

// ServeDNS implements dns.Handler.
func (z *Zone) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	name := SRVName(z.domain)
	for _, q := range req.Question {
		if !strings.EqualFold(q.Name, name) || q.Qtype != dns.TypeSRV {
			resp.Rcode = dns.RcodeNameError
			continue
		}
		resp.Answer, resp.Extra = z.answer(q.Name)
	}

	_ = w.WriteMsg(resp)
}

func (z *Zone) answer(qname string) (answer, extra []dns.RR) {
	z.mu.RLock()
	defer z.mu.RUnlock()

	targets := make([]string, 0, len(z.records))
	for t := range z.records {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	for _, t := range targets {
		record := z.records[t]
		answer = append(answer, &dns.SRV{
			Hdr: dns.RR_Header{
				Name:   qname,
				Rrtype: dns.TypeSRV,
				Class:  dns.ClassINET,
				Ttl:    60,
			},
			Priority: record.Priority,
			Weight:   record.Weight,
			Port:     record.Port,
			Target:   record.Target,
		})

		if ip4 := record.IP.To4(); ip4 != nil {
			extra = append(extra, &dns.A{
				Hdr: dns.RR_Header{Name: record.Target, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   ip4,
			})
		} else if record.IP != nil {
			extra = append(extra, &dns.AAAA{
				Hdr:  dns.RR_Header{Name: record.Target, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: 60},
				AAAA: record.IP,
			})
		}
	}
	return answer, extra
}

// ListenAndServe serves the zone over UDP until Shutdown is called.
// started, if non-nil, is invoked once the socket is bound.
func (z *Zone) ListenAndServe(addr string, started func()) error {
	z.mu.Lock()
	z.server = &dns.Server{
		Addr:              addr,
		Net:               "udp",
		Handler:           z,
		NotifyStartedFunc: started,
	}
	server := z.server
	z.mu.Unlock()

	log.Info().
		Str("addr", addr).
		Str("zone", SRVName(z.domain)).
		Msg("starting SRV responder")

	return server.ListenAndServe()
}

// Shutdown stops the responder.
func (z *Zone) Shutdown() error {
	z.mu.RLock()
	server := z.server
	z.mu.RUnlock()

	if server != nil {
		return server.Shutdown()
	}
	return nil
}
