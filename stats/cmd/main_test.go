package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigDefaults 测试未指定配置文件时使用默认值
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(&options{})
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, "docker", cfg.Collector.Command)
}

// TestLoadConfigOverrides 测试命令行覆盖
func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stackmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 6000\ncollector:\n  stacks_dir: /srv/a\n"), 0o644))

	cfg, err := loadConfig(&options{configPath: path, listen: "127.0.0.1:7000", stacksDir: "/srv/b"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "/srv/b", cfg.Collector.StacksDir)
}

// TestLoadConfigInvalid 测试非法参数
func TestLoadConfigInvalid(t *testing.T) {
	_, err := loadConfig(&options{listen: "7000"})
	assert.Error(t, err)

	_, err = loadConfig(&options{listen: ":abc"})
	assert.Error(t, err)

	_, err = loadConfig(&options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

// TestRootCmdFlags 测试命令行参数定义
func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "listen", "stacks-dir"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
