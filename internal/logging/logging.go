// Package logging builds the service's zap logger and keeps personal data
// out of log lines.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line.
const ServiceName = "ras-rm-auth-service"

// New returns a JSON production logger, or a console logger when
// environment is "dev". level overrides the default info level when it parses.
func New(environment, level string) (*zap.Logger, error) {
	var config zap.Config
	if environment == "dev" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.LevelKey = "severity"
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.EncoderConfig.TimeKey = "created_at"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if level != "" {
		var parsed zapcore.Level
		if err := parsed.UnmarshalText([]byte(strings.ToLower(level))); err == nil {
			config.Level.SetLevel(parsed)
		}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", ServiceName)), nil
}

// Email is a zap field carrying an obfuscated email address.
func Email(key, email string) zap.Field {
	return zap.String(key, ObfuscateEmail(email))
}

// ObfuscateEmail masks everything but the first and last character of the
// local part and the domain: test@example.com becomes t**t@e*********m.
func ObfuscateEmail(email string) string {
	local, domain, hasDomain := strings.Cut(email, "@")
	masked := mask(local)
	if !hasDomain || len([]rune(domain)) <= 1 {
		return masked
	}
	return masked + "@" + mask(domain)
}

func mask(part string) string {
	runes := []rune(part)
	if len(runes) <= 1 {
		return part
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
}
