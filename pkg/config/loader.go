package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	baseFile    = "base.yaml"
	secretsFile = "secrets.env"
)

// LoadConfig 按层加载配置目录：base.yaml <- <env>.yaml，
// 然后用 secrets.env 和系统环境变量展开 ${VAR} 占位符（系统环境变量优先）。
// 未解析的占位符原样保留，交给 Override*FromEnv 或默认值处理。
func LoadConfig(env string, configDir string) (map[string]interface{}, error) {
	if configDir == "" {
		configDir = "config"
	}

	merged, err := readLayer(filepath.Join(configDir, baseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", baseFile, err)
	}

	if env != "" && env != "base" {
		layer, err := readLayer(filepath.Join(configDir, env+".yaml"))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
		default:
			mergeInto(merged, layer)
		}
	}

	secrets, err := readSecrets(filepath.Join(configDir, secretsFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", secretsFile, err)
	}

	lookup := func(key string) (string, bool) {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
		v, ok := secrets[key]
		return v, ok
	}
	return expandTree(merged, lookup).(map[string]interface{}), nil
}

func readLayer(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	layer := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return layer, nil
}

// readSecrets 解析 KEY=VALUE 行，支持 # 注释和成对引号
func readSecrets(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	secrets := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
			value = value[1 : n-1]
		}
		secrets[strings.TrimSpace(key)] = value
	}
	return secrets, sc.Err()
}

// mergeInto 把 src 深度合并进 dst，嵌套 section 逐键覆盖
func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		srcSection, srcOK := v.(map[string]interface{})
		dstSection, dstOK := dst[k].(map[string]interface{})
		if srcOK && dstOK {
			mergeInto(dstSection, srcSection)
			continue
		}
		dst[k] = v
	}
}

func expandTree(v interface{}, lookup func(string) (string, bool)) interface{} {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "${") {
			return val
		}
		return os.Expand(val, func(key string) string {
			if s, ok := lookup(key); ok {
				return s
			}
			return "${" + key + "}"
		})
	case map[string]interface{}:
		for k, child := range val {
			val[k] = expandTree(child, lookup)
		}
		return val
	case []interface{}:
		for i, child := range val {
			val[i] = expandTree(child, lookup)
		}
		return val
	default:
		return v
	}
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
