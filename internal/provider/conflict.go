package provider

import "strings"

var conflictMarkers = []string{
	"already exist",
	"duplicate",
	"conflict",
	"recordexist",
}

// IsConflict 判断创建记录的错误是否为"记录已存在"
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range conflictMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
