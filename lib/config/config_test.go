// config_test.go tests config files
package config

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileToTest is a relative path to the configuration file to test (ie. cmd/conf.json)
var fileToTest = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	conf, err := ExtractConfiguration(fileToTest)
	require.NoError(t, err)

	assert.Equal(t, "3030", conf.Port)
	require.Len(t, conf.Networks, 3)
	assert.Equal(t, "devnet", conf.Networks[0].Name)
	assert.Equal(t, "testnet", conf.Networks[1].Name)
	assert.Equal(t, "local", conf.Networks[2].Name)
	assert.Equal(t, WalletConfig{ID: 1}, conf.Wallet)

	n, ok := conf.Network("testnet")
	require.True(t, ok)
	assert.Equal(t, 3000, n.PollMs)
	assert.Equal(t, SettleMsDefault, n.SettleMs)
	assert.Equal(t, MaxGasDefault, n.MaxGas)
	assert.Equal(t, "1m0s", n.FinalityTimeout().String())

	n, ok = conf.Network("local")
	require.True(t, ok)
	assert.Equal(t, "1.5s", n.Poll().String())
	assert.Zero(t, n.FinalityTimeout())

	_, ok = conf.Network("mainnet")
	assert.False(t, ok)
}

func TestConfigYAML(t *testing.T) {
	conf, err := ExtractConfiguration("../../cmd/conf.yaml")
	require.NoError(t, err)

	assert.Equal(t, "postgresql", conf.DbType)
	assert.Equal(t, "3031", conf.Port)
	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, WalletConfig{Wallet: 1, ID: 2}, conf.Wallet)
	require.Len(t, conf.Networks, 2)
	assert.Equal(t, uint64(2000), conf.Networks[1].MaxGas)
	assert.Equal(t, "200ms", conf.Networks[1].Settle().String())
	assert.Equal(t, uint64(2), conf.Networks[1].GasUnitPrice)
	assert.Equal(t, "30s", conf.Networks[1].Expiration().String())
	assert.Equal(t, "https://faucet.devnet.aptoslabs.com", conf.Networks[0].Faucet)
	assert.Zero(t, conf.Networks[0].Expiration())
	// not set in the file
	assert.Equal(t, MbConnDefault, conf.MbConn)
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("APT_PORT", "8080")
	t.Setenv("APT_DBTYPE", "postgresql")
	t.Setenv("APT_NETWORKS", `[{"name":"custom","node":"http://node:8080","pollMs":100}]`)

	conf, err := ExtractConfiguration("")
	require.NoError(t, err)
	assert.Equal(t, "8080", conf.Port)
	assert.Equal(t, "postgresql", conf.DbType)
	require.Len(t, conf.Networks, 1)
	assert.Equal(t, "custom", conf.Networks[0].Name)
	assert.Equal(t, 100, conf.Networks[0].PollMs)
	assert.Equal(t, MaxGasDefault, conf.Networks[0].MaxGas)

	t.Setenv("APT_NETWORKS", "not json")
	_, err = ExtractConfiguration("")
	assert.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	_, err := ExtractConfiguration("does-not-exist.json")
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("port: [unterminated"), 0o600))
	_, err = ExtractConfiguration(bad)
	assert.Error(t, err)

	// defaults are not shared between calls
	conf, err := ExtractConfiguration("")
	require.NoError(t, err)
	conf.Networks[0].Name = "changed"
	assert.Equal(t, "devnet", NetDefault[0].Name)
}

func TestSetLogLevel(t *testing.T) {
	defer log.SetLevel(log.GetLevel())

	SetLogLevel("debug")
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	SetLogLevel("loud")
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}
