package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/staking/stakingapi"
)

// Broadcast route names
const (
	RouteAPI = "api"
	RouteRPC = "rpc"
)

// Signer backend names
const (
	SignerLocal     = "local"
	SignerCustodian = "custodian"
)

type LoggerServer struct {
	Level              zerolog.Level `json:"level"`
	PrettyPrintConsole bool          `json:"prettyPrintConsole"`
}

type StakingAPI struct {
	BaseURL        string                       `json:"baseUrl"`
	APIKey         string                       `json:"-"`
	Networks       map[staking.ChainKind]string `json:"networks"`
	RequestTimeout time.Duration                `json:"requestTimeout"`
}

type Signer struct {
	// Default is the backend used for roles without an explicit backend
	Default string `json:"default"`
	// KeysFile is the TOML key ring of the local signer
	KeysFile         string        `json:"keysFile"`
	KeystorePath     string        `json:"keystorePath"`
	KeystorePassword string        `json:"-"`
	RetryAttempts    int           `json:"retryAttempts"`
	RetryInterval    time.Duration `json:"retryInterval"`
}

type Custodian struct {
	Enabled        bool          `json:"enabled"`
	BaseURL        string        `json:"baseUrl"`
	APIKey         string        `json:"-"`
	PrivateKeyFile string        `json:"privateKeyFile"`
	VaultAccountID string        `json:"vaultAccountId"`
	PollInterval   time.Duration `json:"pollInterval"`
	MaxAttempts    int           `json:"maxAttempts"`
	RequestTimeout time.Duration `json:"requestTimeout"`
}

type Broadcast struct {
	// Routes picks RouteAPI or RouteRPC per chain
	Routes              map[staking.ChainKind]string `json:"routes"`
	EthereumRPCURLs     []string                     `json:"ethereumRpcUrls"`
	SolanaRPCURL        string                       `json:"solanaRpcUrl"`
	SuiRPCURL           string                       `json:"suiRpcUrl"`
	BlockfrostURL       string                       `json:"blockfrostUrl"`
	BlockfrostProjectID string                       `json:"-"`
	FinalityInterval    time.Duration                `json:"finalityInterval"`
	FinalityAttempts    int                          `json:"finalityAttempts"`
}

type Pipeline struct {
	MaxParallel int `json:"maxParallel"`
}

type EchoServer struct {
	// ListenAddress serves the HTTP API, the probes and /metrics
	ListenAddress string `json:"listenAddress"`
}

type Server struct {
	Logger     LoggerServer `json:"logger"`
	StakingAPI StakingAPI   `json:"stakingApi"`
	Signer     Signer       `json:"signer"`
	Custodian  Custodian    `json:"custodian"`
	Broadcast  Broadcast    `json:"broadcast"`
	Pipeline   Pipeline     `json:"pipeline"`
	Echo       EchoServer   `json:"echo"`
}

// DefaultServiceConfigFromEnv returns the server config as parsed from environment variables
// and their respective defaults. A .env file (or DOTENV_PATH) is loaded first; variables
// already set in the environment win.
func DefaultServiceConfigFromEnv() Server {
	loadDotEnv()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	level, err := zerolog.ParseLevel(v.GetString("LOG_LEVEL"))
	if err != nil {
		log.Warn().Err(err).Str("level", v.GetString("LOG_LEVEL")).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}

	networks := stakingapi.DefaultNetworks()
	routes := make(map[staking.ChainKind]string, len(networks))
	for ch := range networks {
		key := strings.ToUpper(string(ch))
		networks[ch] = v.GetString("STAKING_NETWORK_" + key)
		routes[ch] = strings.ToLower(v.GetString("BROADCAST_ROUTE_" + key))
	}

	return Server{
		Logger: LoggerServer{
			Level:              level,
			PrettyPrintConsole: v.GetBool("LOG_PRETTY_PRINT_CONSOLE"),
		},
		StakingAPI: StakingAPI{
			BaseURL:        v.GetString("STAKING_API_URL"),
			APIKey:         v.GetString("STAKING_API_KEY"),
			Networks:       networks,
			RequestTimeout: v.GetDuration("STAKING_API_TIMEOUT"),
		},
		Signer: Signer{
			Default:          v.GetString("SIGNER_DEFAULT"),
			KeysFile:         v.GetString("SIGNER_KEYS_FILE"),
			KeystorePath:     v.GetString("KEYSTORE_PATH"),
			KeystorePassword: v.GetString("KEYSTORE_PASSWORD"),
			RetryAttempts:    v.GetInt("SIGNER_RETRY_ATTEMPTS"),
			RetryInterval:    v.GetDuration("SIGNER_RETRY_INTERVAL"),
		},
		Custodian: Custodian{
			Enabled:        v.GetBool("CUSTODIAN_ENABLED"),
			BaseURL:        v.GetString("CUSTODIAN_URL"),
			APIKey:         v.GetString("CUSTODIAN_API_KEY"),
			PrivateKeyFile: v.GetString("CUSTODIAN_PRIVATE_KEY_FILE"),
			VaultAccountID: v.GetString("CUSTODIAN_VAULT_ACCOUNT_ID"),
			PollInterval:   v.GetDuration("CUSTODIAN_POLL_INTERVAL"),
			MaxAttempts:    v.GetInt("CUSTODIAN_POLL_ATTEMPTS"),
			RequestTimeout: v.GetDuration("CUSTODIAN_TIMEOUT"),
		},
		Broadcast: Broadcast{
			Routes:              routes,
			EthereumRPCURLs:     splitList(v.GetString("ETHEREUM_RPC_URLS")),
			SolanaRPCURL:        v.GetString("SOLANA_RPC_URL"),
			SuiRPCURL:           v.GetString("SUI_RPC_URL"),
			BlockfrostURL:       v.GetString("BLOCKFROST_URL"),
			BlockfrostProjectID: v.GetString("BLOCKFROST_PROJECT_ID"),
			FinalityInterval:    v.GetDuration("FINALITY_POLL_INTERVAL"),
			FinalityAttempts:    v.GetInt("FINALITY_POLL_ATTEMPTS"),
		},
		Pipeline: Pipeline{
			MaxParallel: v.GetInt("BATCH_MAX_PARALLEL"),
		},
		Echo: EchoServer{
			ListenAddress: v.GetString("SERVER_ECHO_LISTEN_ADDRESS"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY_PRINT_CONSOLE", false)

	v.SetDefault("STAKING_API_URL", stakingapi.DefaultBaseURL)
	v.SetDefault("STAKING_API_TIMEOUT", 30*time.Second)
	for ch, network := range stakingapi.DefaultNetworks() {
		v.SetDefault("STAKING_NETWORK_"+strings.ToUpper(string(ch)), network)
		v.SetDefault("BROADCAST_ROUTE_"+strings.ToUpper(string(ch)), RouteAPI)
	}

	v.SetDefault("SIGNER_DEFAULT", SignerLocal)
	v.SetDefault("SIGNER_KEYS_FILE", "keys.toml")
	v.SetDefault("KEYSTORE_PATH", "keystore.json")
	v.SetDefault("SIGNER_RETRY_ATTEMPTS", 3)
	v.SetDefault("SIGNER_RETRY_INTERVAL", time.Second)

	v.SetDefault("CUSTODIAN_ENABLED", false)
	v.SetDefault("CUSTODIAN_URL", "https://api.fireblocks.io")
	v.SetDefault("CUSTODIAN_POLL_INTERVAL", 2*time.Second)
	v.SetDefault("CUSTODIAN_POLL_ATTEMPTS", 90)
	v.SetDefault("CUSTODIAN_TIMEOUT", 30*time.Second)

	v.SetDefault("ETHEREUM_RPC_URLS", "https://ethereum-hoodi-rpc.publicnode.com")
	v.SetDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	v.SetDefault("SUI_RPC_URL", "https://fullnode.testnet.sui.io:443")
	v.SetDefault("BLOCKFROST_URL", "https://cardano-preprod.blockfrost.io/api/v0")
	v.SetDefault("FINALITY_POLL_INTERVAL", 2*time.Second)
	v.SetDefault("FINALITY_POLL_ATTEMPTS", 30)

	v.SetDefault("BATCH_MAX_PARALLEL", 4)
	v.SetDefault("SERVER_ECHO_LISTEN_ADDRESS", ":8080")
}

func loadDotEnv() {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := gotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
