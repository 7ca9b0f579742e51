package domain

import "strings"

const (
	wildcardPrefix = "*."

	// ChallengeLabel DNS-01 验证记录的前缀
	ChallengeLabel = "_acme-challenge"
)

// Normalize 转为小写并去掉结尾的点
func Normalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// StripWildcard 去掉开头的 *.，并返回是否为通配符域名
// 例如: *.example.com -> example.com, true
func StripWildcard(host string) (string, bool) {
	if strings.HasPrefix(host, wildcardPrefix) {
		return host[len(wildcardPrefix):], true
	}
	return host, false
}

// ChallengeHost 返回 DNS-01 验证主机名
// 例如: www.example.com -> _acme-challenge.www.example.com
func ChallengeHost(host string) string {
	return ChallengeLabel + "." + host
}

// CountLabels 统计域名的标签数
func CountLabels(name string) int {
	name = Normalize(name)
	if name == "" {
		return 0
	}
	return strings.Count(name, ".") + 1
}

// ExtractSubDomain 提取子域名部分（用于DNS记录的RR值）
// 例如: _acme-challenge.www.example.com 在 example.com 下为 _acme-challenge.www
// 记录就是Zone本身时返回 @
func ExtractSubDomain(fullRecord, zone string) string {
	fullRecord = Normalize(fullRecord)
	zone = Normalize(zone)
	if fullRecord == zone {
		return "@"
	}
	if strings.HasSuffix(fullRecord, "."+zone) {
		return strings.TrimSuffix(fullRecord, "."+zone)
	}
	return fullRecord
}

// IsSubDomain 检查是否为子域名（或域名本身）
func IsSubDomain(domain, mainDomain string) bool {
	domain = Normalize(domain)
	mainDomain = Normalize(mainDomain)
	return strings.HasSuffix(domain, "."+mainDomain) || domain == mainDomain
}

// MatchDomain 检查证书域名是否覆盖目标域名（支持通配符）
// 通配符只覆盖一级子域名
func MatchDomain(certDomain, targetDomain string) bool {
	certDomain = Normalize(certDomain)
	targetDomain = Normalize(targetDomain)

	// 完全匹配
	if certDomain == targetDomain {
		return true
	}

	// 通配符匹配
	if base, ok := StripWildcard(certDomain); ok {
		idx := strings.Index(targetDomain, ".")
		return idx > 0 && targetDomain[idx+1:] == base
	}

	return false
}

// Unique 去重并保持顺序
func Unique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// DirName 证书保存目录名，通配符替换为 _wildcard
func DirName(name string) string {
	if base, ok := StripWildcard(name); ok {
		return "_wildcard." + base
	}
	return name
}
