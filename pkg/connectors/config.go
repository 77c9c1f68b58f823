package connectors

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
	"github.com/MODSetter/SurfSense-sub000/pkg/secrets"
)

// DecodeConfig decrypts the connector's stored config map and decodes it
// into an adapter-specific struct. Numbers arriving as JSON strings decode
// weakly, matching what UI clients actually send.
func DecodeConfig(store secrets.Store, conn *models.Connector, out interface{}) error {
	raw, err := conn.ConfigMap()
	if err != nil {
		return fmt.Errorf("read connector config: %w", err)
	}

	plain := raw
	if store != nil {
		plain, err = secrets.DecryptConfig(store, raw)
		if err != nil {
			return fmt.Errorf("decrypt connector config: %w", err)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(plain); err != nil {
		return fmt.Errorf("decode connector config: %w", err)
	}
	return nil
}

// RequireKeys fails with ErrMissingCredentials when any listed key is
// absent or empty in the config map.
func RequireKeys(cfg map[string]interface{}, keys ...string) error {
	for _, key := range keys {
		raw, ok := cfg[key]
		if !ok {
			return fmt.Errorf("%w: config key %q not set", ErrMissingCredentials, key)
		}
		if s, isStr := raw.(string); isStr && s == "" {
			return fmt.Errorf("%w: config key %q empty", ErrMissingCredentials, key)
		}
	}
	return nil
}
