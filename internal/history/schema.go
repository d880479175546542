package history

import (
	"fmt"

	"quantcore/internal/security"
)

// Schema 声明 History 的层级顺序、字段列表以及证券解析器。
// 内容视为不可变：方法不会修改 Levels/Fields。
type Schema struct {
	Levels     []Level
	Fields     []string
	Securities *security.Manager
}

// NewSchema 仅存储参数，校验由 Validate 负责。
func NewSchema(levels []Level, fields []string, securities *security.Manager) Schema {
	return Schema{
		Levels:     append([]Level(nil), levels...),
		Fields:     append([]string(nil), fields...),
		Securities: securities,
	}
}

// Validate 检查层级和字段不重复。
func (s Schema) Validate() error {
	seen := make(map[Level]struct{}, len(s.Levels))
	for _, l := range s.Levels {
		if l == "" {
			return fmt.Errorf("%w: empty level", ErrInvalidSchema)
		}
		if _, ok := seen[l]; ok {
			return fmt.Errorf("%w: duplicate level %s", ErrInvalidSchema, l)
		}
		seen[l] = struct{}{}
	}
	fields := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if _, ok := fields[f]; ok {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f)
		}
		fields[f] = struct{}{}
	}
	return nil
}

func (s Schema) HasLevel(l Level) bool { return levelIndex(s.Levels, l) >= 0 }

func (s Schema) LevelIndex(l Level) int { return levelIndex(s.Levels, l) }

func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// WithFields 返回同层级、同 manager 但字段不同的 schema。
func (s Schema) WithFields(fields ...string) Schema {
	return NewSchema(s.Levels, fields, s.Securities)
}

// WithSecurities 返回替换 manager 后的 schema。
func (s Schema) WithSecurities(m *security.Manager) Schema {
	return NewSchema(s.Levels, s.Fields, m)
}

// Compatible 比较层级与字段，不比较 manager。
func (s Schema) Compatible(other Schema) bool {
	return levelsEqual(s.Levels, other.Levels) && fieldsEqual(s.Fields, other.Fields)
}

func (s Schema) Equal(other Schema) bool {
	return s.Compatible(other) && s.Securities.Equal(other.Securities)
}

// SchemaDict 是 schema 的传输结构。
type SchemaDict struct {
	Levels          []string       `json:"levels" mapstructure:"levels"`
	Fields          []string       `json:"fields" mapstructure:"fields"`
	SecurityManager map[string]any `json:"security_manager" mapstructure:"security_manager"`
}

func (s Schema) ToDict() SchemaDict {
	levels := make([]string, len(s.Levels))
	for i, l := range s.Levels {
		levels[i] = string(l)
	}
	fields := append([]string{}, s.Fields...)
	return SchemaDict{
		Levels:          levels,
		Fields:          fields,
		SecurityManager: s.Securities.ToMap(),
	}
}

// SchemaFromDict 是 ToDict 的逆操作。
func SchemaFromDict(d SchemaDict) (Schema, error) {
	levels := make([]Level, 0, len(d.Levels))
	for i, raw := range d.Levels {
		l, err := ParseLevel(raw)
		if err != nil {
			return Schema{}, fmt.Errorf("schema.levels[%d]: %w", i, err)
		}
		levels = append(levels, l)
	}
	m, err := security.ManagerFromMap(d.SecurityManager)
	if err != nil {
		return Schema{}, err
	}
	s := NewSchema(levels, d.Fields, m)
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}
