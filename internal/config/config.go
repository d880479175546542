package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 QUANTCORE_APP_LOG_LEVEL。
const EnvPrefix = "QUANTCORE"

const includeKey = "include"

// Load 读取配置文件（含 include 链），环境变量覆盖已出现的键，然后补默认值并校验。
// 被 include 的文件先于引用它的文件合并，后合并的键覆盖先合并的。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	l := newFileLoader()
	if err := l.load(abs); err != nil {
		return nil, err
	}
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	var cfg Config
	if err := l.v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Files = l.files
	cfg.applyDefaults(l.setKeys())
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fileLoader 按深度优先合并 include 链。
type fileLoader struct {
	v     *viper.Viper
	done  map[string]bool
	chain []string
	files []string
}

func newFileLoader() *fileLoader {
	v := viper.New()
	v.SetConfigType("yaml")
	return &fileLoader{v: v, done: make(map[string]bool)}
}

func (l *fileLoader) load(path string) error {
	path = filepath.Clean(path)
	if slices.Contains(l.chain, path) {
		cycle := append(append([]string(nil), l.chain...), path)
		for i := range cycle {
			cycle[i] = filepath.Base(cycle[i])
		}
		return fmt.Errorf("include cycle detected: %s", strings.Join(cycle, " -> "))
	}
	if l.done[path] {
		return nil
	}
	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(file.Get(includeKey))
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}

	l.chain = append(l.chain, path)
	dir := filepath.Dir(path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		if err := l.load(inc); err != nil {
			return err
		}
	}
	l.chain = l.chain[:len(l.chain)-1]

	settings := file.AllSettings()
	delete(settings, includeKey)
	if err := l.v.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("merging config file failed (%s): %w", path, err)
	}
	l.done[path] = true
	l.files = append(l.files, path)
	return nil
}

// setKeys 返回合并后显式出现过的键，供默认值判断“用户是否写过”。
func (l *fileLoader) setKeys() keySet {
	keys := make(keySet)
	for _, k := range l.v.AllKeys() {
		keys.mark(k)
		for i := strings.LastIndexByte(k, '.'); i > 0; i = strings.LastIndexByte(k[:i], '.') {
			keys.mark(k[:i])
		}
	}
	return keys
}

// includeList 接受单个字符串或字符串数组。
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a string or string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}
