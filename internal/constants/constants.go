package constants

import "time"

const (
	AppName       = "tuxedex"
	WalletFile    = "wallet.json"
	ConfigFile    = "config.yaml"
	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// AAD for the keystore payload (must match on decrypt).
	KeystoreAAD = "tuxedex:localwallet:v1"

	DefaultListenAddr      = "127.0.0.1:6180"
	DefaultStateKeyPrefix  = "app/tuxedex/"
	DefaultContractPath    = "/contract"
	DefaultSignatureScheme = "Ed25519"
	DefaultPollInterval    = 3000 * time.Millisecond
	ToastDuration          = 4 * time.Second
)
