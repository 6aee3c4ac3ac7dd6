package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, then the cross-field rules tags cannot express
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := cfg.Policy(); err != nil {
		return fmt.Errorf("attendance: %w", err)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	if cfg.MQTT.Enabled && strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	for kind, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2", kind)
		}
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		id := strings.TrimSpace(s.ID)
		if id == "" || strings.TrimSpace(s.Address) == "" {
			return fmt.Errorf("sources[%d]: id and address are required", i)
		}
		if seen[id] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	return nil
}
