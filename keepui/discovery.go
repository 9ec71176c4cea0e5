package keepui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SigningConfig is the signing section of the discovery document.
// The core only consumes the sign endpoint. Key management lives server-side.
type SigningConfig struct {
	SignHandler      string  `json:"signHandler"`
	VerifyHandler    string  `json:"verifyHandler,omitempty"`
	PublicKeyBlobRef BlobRef `json:"publicKeyBlobRef"`
}

// DiscoveryDocument is read once at boot and never mutated.
type DiscoveryDocument struct {
	SearchRoot     string         `json:"searchRoot"`
	BlobRoot       string         `json:"blobRoot"`
	UploadHelper   string         `json:"uploadHelper"`
	DownloadHelper string         `json:"downloadHelper"`
	Signing        *SigningConfig `json:"signing,omitempty"`
	WsAuthToken    string         `json:"wsAuthToken,omitempty"`
	ThumbVersion   int            `json:"thumbVersion,omitempty"`
	OwnerName      string         `json:"ownerName,omitempty"`
}

// Discover fetches the discovery document from the server root.
func Discover(ctx context.Context, serverUrl string) (*DiscoveryDocument, error) {
	configUrl := strings.TrimSuffix(serverUrl, "/") + "/?camli.mode=config"
	req, err := http.NewRequestWithContext(ctx, "GET", configUrl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "text/x-camli-configuration")

	r, err := defaultClient().Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer r.Body.Close()

	if http.StatusOK != r.StatusCode {
		return nil, &TransportError{
			Status: r.StatusCode,
			Err:    fmt.Errorf("discovery returned status %d", r.StatusCode),
		}
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	config := &DiscoveryDocument{}
	if err := json.Unmarshal(bodyBytes, config); err != nil {
		return nil, err
	}
	return config, nil
}
