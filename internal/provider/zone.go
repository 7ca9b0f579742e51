package provider

import (
	"fmt"

	"acme-manager/internal/domain"
)

// BestZone 在账号的Zone中为域名找出最具体（标签最多）的那个
// 只考虑主Zone且处于激活状态的；同样具体的Zone出现两次视为配置错误
func BestZone(name string, zones []Zone) (Zone, error) {
	name = domain.Normalize(name)

	var best Zone
	bestLabels := 0
	conflict := false

	for _, z := range zones {
		if !z.Eligible() {
			continue
		}
		zoneName := domain.Normalize(z.Name)
		if zoneName == "" || !domain.IsSubDomain(name, zoneName) {
			continue
		}

		labels := domain.CountLabels(zoneName)
		switch {
		case labels > bestLabels:
			best = z
			best.Name = zoneName
			bestLabels = labels
			conflict = false
		case labels == bestLabels:
			conflict = true
		}
	}

	if bestLabels == 0 {
		return Zone{}, fmt.Errorf("%w: %s", ErrZoneNotFound, name)
	}
	if conflict {
		return Zone{}, fmt.Errorf("%w: %s 匹配到多个 %s", ErrZoneConflict, name, best.Name)
	}
	return best, nil
}
