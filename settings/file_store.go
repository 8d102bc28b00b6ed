package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore 把设置保存为 YAML 键值文件，写入时先写临时文件再 rename。
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path 返回文件路径，供热更新监听使用。
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals, err := f.readLocked()
	if err != nil {
		return "", false, err
	}
	v, ok := vals[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals, err := f.readLocked()
	if err != nil {
		return err
	}
	vals[key] = value
	return f.writeLocked(vals)
}

// SetMany 合并多个键，只写一次文件
func (f *FileStore) SetMany(_ context.Context, kv map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	vals, err := f.readLocked()
	if err != nil {
		return err
	}
	for k, v := range kv {
		vals[k] = v
	}
	return f.writeLocked(vals)
}

func (f *FileStore) readLocked() (map[string]string, error) {
	vals := make(map[string]string)
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return vals, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	// 手工编辑的文件可能写成数字，统一按字符串读取
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse settings yaml: %w", err)
	}
	for k, v := range doc {
		if v == nil {
			continue
		}
		vals[k] = fmt.Sprint(v)
	}
	return vals, nil
}

func (f *FileStore) writeLocked(vals map[string]string) error {
	raw, err := yaml.Marshal(vals)
	if err != nil {
		return fmt.Errorf("encode settings yaml: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
