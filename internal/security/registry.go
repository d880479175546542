package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantcore/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Entry 是证券文件中的单条记录。
type Entry struct {
	Symbol   string   `yaml:"symbol"`
	Name     string   `yaml:"name"`
	Exchange string   `yaml:"exchange"`
	Base     string   `yaml:"base"`
	Quote    string   `yaml:"quote"`
	Aliases  []string `yaml:"aliases"`
}

// FileConfig 映射证券文件。
type FileConfig struct {
	Strict      bool    `yaml:"strict"`
	MergePolicy string  `yaml:"merge_policy"`
	Securities  []Entry `yaml:"securities"`
}

// Snapshot 是某次加载后的 manager 快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Manager  *Manager
}

// ChangeListener 在 registry 重载后触发。
type ChangeListener func(Snapshot)

// Registry 从 YAML 文件加载证券并在文件变化时热更新。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

const fileSchema = `{
  "type": "object",
  "properties": {
    "strict": {"type": "boolean"},
    "merge_policy": {"type": "string", "enum": ["", "keep_first", "keep_last", "error"]},
    "securities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["symbol"],
        "properties": {
          "symbol": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "exchange": {"type": "string"},
          "base": {"type": "string"},
          "quote": {"type": "string"},
          "aliases": {"type": "array", "items": {"type": "string"}}
        },
        "additionalProperties": false
      }
    }
  },
  "required": ["securities"],
  "additionalProperties": false
}`

var (
	fileSchemaOnce     sync.Once
	fileSchemaCompiled *jsonschema.Schema
	fileSchemaErr      error
)

func compiledFileSchema() (*jsonschema.Schema, error) {
	fileSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("securities.json", strings.NewReader(fileSchema)); err != nil {
			fileSchemaErr = err
			return
		}
		fileSchemaCompiled, fileSchemaErr = compiler.Compile("securities.json")
	})
	return fileSchemaCompiled, fileSchemaErr
}

// NewRegistry 读取证券文件；watch 为 true 时监听文件变化。
func NewRegistry(path string, watch bool) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("security registry requires path")
	}
	r := &Registry{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read security file failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				logger.Errorf("security registry reload failed (%s): %v", evt.Name, err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

// Manager 返回当前 manager 的独立副本。
func (r *Registry) Manager() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Manager.Clone()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshot
	snap.Manager = snap.Manager.Clone()
	return snap
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := ReadFile(r.path)
	if err != nil {
		return err
	}
	m, err := cfg.Build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Manager:  m,
	}
	r.mu.Unlock()
	logger.Infof("security registry loaded %d tokens from %s", m.Len(), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	snap := r.Snapshot()
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("security registry listener")
			cb(snap)
		}(fn)
	}
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

// Build 将文件内容转换为 manager。
func (c FileConfig) Build() (*Manager, error) {
	policy, err := ParseMergePolicy(c.MergePolicy)
	if err != nil {
		return nil, err
	}
	m := NewManager()
	m.strict = c.Strict
	m.policy = policy
	for i, e := range c.Securities {
		sec := Security{
			Symbol:   e.Symbol,
			Name:     e.Name,
			Exchange: e.Exchange,
			Base:     strings.ToUpper(strings.TrimSpace(e.Base)),
			Quote:    strings.ToUpper(strings.TrimSpace(e.Quote)),
		}
		if err := m.Register(sec, e.Aliases...); err != nil {
			return nil, fmt.Errorf("securities[%d]: %w", i, err)
		}
	}
	return m, nil
}

// ReadFile 校验并解析证券文件。
func ReadFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read security file failed: %w", err)
	}
	return Parse(raw)
}

// Parse 先以 JSON schema 校验，再按已知字段解码。
func Parse(raw []byte) (FileConfig, error) {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return FileConfig{}, fmt.Errorf("parse security file failed: %w", err)
	}
	// yaml 的整型与 map 形态需先规整为 JSON 值再交给校验器。
	normalized, err := toJSONValue(generic)
	if err != nil {
		return FileConfig{}, err
	}
	schema, err := compiledFileSchema()
	if err != nil {
		return FileConfig{}, err
	}
	if err := schema.Validate(normalized); err != nil {
		return FileConfig{}, fmt.Errorf("security file invalid: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse security file failed: %w", err)
	}
	return cfg, nil
}

func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("security file not representable as json: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
