package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce 合并编辑器保存时连续产生的事件
var reloadDebounce = 500 * time.Millisecond

// ConfigWatcher 监听配置文件变化
// 监听的是所在目录，编辑器以重命名方式保存时也能收到事件
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewConfigWatcher 开始监听 path 所在目录
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("监听目录 %s 失败: %w", filepath.Dir(abs), err)
	}
	return &ConfigWatcher{path: abs, watcher: w}, nil
}

// Run 配置文件写入、创建或被替换时调用 onChange，直到 ctx 取消
func (c *ConfigWatcher) Run(ctx context.Context, onChange func()) {
	defer c.watcher.Close()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			log.Debugf("配置文件变化: %s", event)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, onChange)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("监听配置文件出错: %v", err)
		}
	}
}
