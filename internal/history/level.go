package history

import (
	"fmt"
	"strings"
)

// Level 是 History 复合 key 的一个维度。
type Level string

const (
	LevelDate     Level = "DATE"
	LevelSecurity Level = "SECURITY"
	LevelInterval Level = "INTERVAL"
	LevelExchange Level = "EXCHANGE"
)

func (l Level) String() string { return string(l) }

// ParseLevel 接受大小写不敏感的层级名；未知名称按原样大写保留以便扩展。
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return "", fmt.Errorf("empty level name")
	}
	return Level(name), nil
}

func levelIndex(levels []Level, target Level) int {
	for i, l := range levels {
		if l == target {
			return i
		}
	}
	return -1
}

func levelsEqual(a, b []Level) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fieldsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
