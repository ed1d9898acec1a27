package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

// ServiceName is the SRV service label replication nodes publish under.
const ServiceName = "_aaarepl._tcp"

// DefaultResolvConf is read when no nameserver is configured.
const DefaultResolvConf = "/etc/resolv.conf"

// SRVName returns the fully qualified SRV owner name for a cluster domain,
// e.g. "_aaarepl._tcp.aaa.example.com.".
func SRVName(domain string) string {
	return dns.Fqdn(ServiceName + "." + strings.TrimSuffix(domain, "."))
}

// SRV discovers peers through DNS SRV records for _aaarepl._tcp.<domain>.
type SRV struct {
	domain     string
	nameserver string
	client     *dns.Client
}

// NewSRV creates an SRV source. If nameserver is empty the first server in
// /etc/resolv.conf is used.
func NewSRV(domain, nameserver string, timeout time.Duration) (*SRV, error) {
	if strings.TrimSpace(domain) == "" {
		return nil, fmt.Errorf("srv discovery: domain is required")
	}

	if nameserver == "" {
		cc, err := dns.ClientConfigFromFile(DefaultResolvConf)
		if err != nil {
			return nil, fmt.Errorf("srv discovery: read %s: %w", DefaultResolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return nil, fmt.Errorf("srv discovery: no nameservers in %s", DefaultResolvConf)
		}
		nameserver = net.JoinHostPort(cc.Servers[0], cc.Port)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &SRV{
		domain:     domain,
		nameserver: nameserver,
		client:     &dns.Client{Net: "udp", Timeout: timeout},
	}, nil
}

// Name implements Source.
func (s *SRV) Name() string { return "srv" }

// Peers queries the SRV records and returns "host:port" targets ordered by
// ascending priority and descending weight. Targets with an address record
// in the additional section are returned by IP.
func (s *SRV) Peers(ctx context.Context) ([]string, error) {
	query := SRVName(s.domain)

	m := new(dns.Msg)
	m.SetQuestion(query, dns.TypeSRV)
	m.RecursionDesired = true

	resp, _, err := s.client.ExchangeContext(ctx, m, s.nameserver)
	if err != nil {
		return nil, fmt.Errorf("query %s via %s: %w", query, s.nameserver, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("query %s: %s", query, dns.RcodeToString[resp.Rcode])
	}

	glue := make(map[string]string)
	for _, rr := range resp.Extra {
		switch a := rr.(type) {
		case *dns.A:
			glue[a.Hdr.Name] = a.A.String()
		case *dns.AAAA:
			if _, ok := glue[a.Hdr.Name]; !ok {
				glue[a.Hdr.Name] = a.AAAA.String()
			}
		}
	}

	var records []*dns.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	addrs := make([]string, 0, len(records))
	for _, srv := range records {
		host := strings.TrimSuffix(srv.Target, ".")
		if ip, ok := glue[srv.Target]; ok {
			host = ip
		}
		addrs = append(addrs, net.JoinHostPort(host, strconv.Itoa(int(srv.Port))))
	}

	log.Debug().
		Str("query", query).
		Strs("peers", addrs).
		Msg("discovered peers via SRV")

	return addrs, nil
}
