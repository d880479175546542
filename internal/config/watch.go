package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"quantcore/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ChangeListener 在配置重新加载成功后被调用。
type ChangeListener func(*Config)

// Watcher 持有当前配置并监听主配置文件及其 include 文件的变化。重载失败时保留旧配置。
type Watcher struct {
	path  string
	files []*viper.Viper

	mu        sync.RWMutex
	current   *Config
	version   int
	listeners []ChangeListener
}

// Watch 加载配置并开始监听 FS 事件。
func Watch(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config watcher requires path")
	}
	w := &Watcher{path: path}
	if err := w.reload(); err != nil {
		return nil, err
	}
	// 只监听启动时解析出的文件，重载后新增的 include 需要重启 watch。
	for _, file := range w.Current().Files {
		v := viper.New()
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed (%s): %w", file, err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := w.reload(); err != nil {
				logger.Errorf("config reload failed (%s): %v", evt.Name, err)
				return
			}
			w.notify()
		})
		v.WatchConfig()
		w.files = append(w.files, v)
	}
	return w, nil
}

// Current 返回最近一次成功加载的配置，调用方不应修改。
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) Version() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// Subscribe 注册监听器。
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg
	w.version++
	w.mu.Unlock()
	logger.Infof("config reloaded from %s", filepath.Base(w.path))
	return nil
}

func (w *Watcher) notify() {
	w.mu.RLock()
	cfg := w.current
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("config listener panic: %v", r)
				}
			}()
			cb(cfg)
		}(fn)
	}
}
