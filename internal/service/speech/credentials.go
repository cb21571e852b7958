package speech

import (
	"errors"
	"strings"

	"github.com/zhouzirui/indiana-oracle/backend/internal/config"
)

var errMissingCredentials = errors.New("volcengine speech requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")

// resolveCredentials returns the trimmed app id and access token.
func resolveCredentials(cfg config.SpeechConfig) (string, string, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if appID == "" || token == "" {
		return "", "", errMissingCredentials
	}
	return appID, token, nil
}
