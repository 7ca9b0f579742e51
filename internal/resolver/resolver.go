// Package resolver 基于 miekg/dns 的TXT/CNAME查询
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	defaultResolvConf = "/etc/resolv.conf"
	defaultTimeout    = 5 * time.Second
)

// FallbackNameserver resolv.conf 不可用时使用的递归服务器
var FallbackNameserver = "8.8.8.8:53"

// ErrNoAnswer 查询成功但没有所需类型的记录
var ErrNoAnswer = errors.New("no answer")

// Resolver 向指定服务器发送DNS查询
type Resolver struct {
	client      *dns.Client
	nameservers []string
}

// New 创建查询器，nameservers 为空时读取系统 resolv.conf
func New(nameservers ...string) *Resolver {
	if len(nameservers) == 0 {
		nameservers = systemNameservers()
	}

	servers := make([]string, 0, len(nameservers))
	for _, ns := range nameservers {
		servers = append(servers, WithPort(ns))
	}

	return &Resolver{
		client:      &dns.Client{Timeout: defaultTimeout},
		nameservers: servers,
	}
}

// Nameservers 返回默认查询的服务器
func (r *Resolver) Nameservers() []string {
	return append([]string(nil), r.nameservers...)
}

// LookupTXT 向 server 查询 name 的TXT记录
// server 为空时依次尝试默认服务器
func (r *Resolver) LookupTXT(ctx context.Context, server, name string) ([]string, error) {
	msg, err := r.query(ctx, server, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, rr := range msg.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			values = append(values, strings.Join(txt.Txt, ""))
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s TXT: %w", name, ErrNoAnswer)
	}
	return values, nil
}

// LookupCNAME 查询 name 的CNAME目标，结果不带结尾的点
func (r *Resolver) LookupCNAME(ctx context.Context, name string) (string, error) {
	msg, err := r.query(ctx, "", name, dns.TypeCNAME)
	if err != nil {
		return "", err
	}

	for _, rr := range msg.Answer {
		if cname, ok := rr.(*dns.CNAME); ok && strings.EqualFold(cname.Hdr.Name, dns.Fqdn(name)) {
			return strings.TrimSuffix(cname.Target, "."), nil
		}
	}
	return "", fmt.Errorf("%s CNAME: %w", name, ErrNoAnswer)
}

func (r *Resolver) query(ctx context.Context, server, name string, qtype uint16) (*dns.Msg, error) {
	servers := r.nameservers
	if server != "" {
		servers = []string{WithPort(server)}
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.SetEdns0(4096, false)

	var lastErr error
	for _, ns := range servers {
		in, _, err := r.client.ExchangeContext(ctx, m, ns)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s %s @%s: %s", name, dns.TypeToString[qtype], ns, dns.RcodeToString[in.Rcode])
			continue
		}
		return in, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no nameserver configured")
	}
	return nil, lastErr
}

// WithPort 补全默认端口 53，空字符串原样返回
func WithPort(server string) string {
	if server == "" {
		return ""
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), "53")
}

func systemNameservers() []string {
	cfg, err := dns.ClientConfigFromFile(defaultResolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		return []string{FallbackNameserver}
	}

	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}
