package keepui

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
)

const (
	ClaimSetAttribute = "set-attribute"
	ClaimAddAttribute = "add-attribute"
	ClaimDelAttribute = "del-attribute"
)

// UnsignedClaim is the clear-text claim object sent to the sign handler.
// CamliSigner is filled in from the discovery document at sign time.
type UnsignedClaim struct {
	CamliVersion int    `json:"camliVersion"`
	CamliType    string `json:"camliType"`
	PermaNode    string `json:"permaNode"`
	ClaimType    string `json:"claimType"`
	ClaimDate    string `json:"claimDate"`
	Attribute    string `json:"attribute"`
	Value        string `json:"value"`
	CamliSigner  string `json:"camliSigner,omitempty"`
}

func newAttributeClaim(permanode BlobRef, claimType string, attr string, value string) *UnsignedClaim {
	return &UnsignedClaim{
		CamliVersion: 1,
		CamliType:    TypeClaim,
		PermaNode:    permanode.String(),
		ClaimType:    claimType,
		// rfc 3339, utc, second precision
		ClaimDate: time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
		Attribute: attr,
		Value:     value,
	}
}

type SignCallback apiCallback[[]byte]

// Sign posts the clear object to the sign handler as
// `json=<urlencoded JSON>` and returns the signed blob bytes.
func (self *ServerConnection) Sign(clearObj any, callback SignCallback) {
	go func() {
		signedBytes, err := self.signSync(clearObj)
		callback.Result(signedBytes, err)
	}()
}

func (self *ServerConnection) signSync(clearObj any) ([]byte, error) {
	sigConfig := self.config.Signing
	if sigConfig == nil || sigConfig.PublicKeyBlobRef.IsZero() || sigConfig.SignHandler == "" {
		return nil, ErrMissingSigningConfig
	}

	clearBytes, err := json.Marshal(clearObj)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("json", string(clearBytes))

	req, err := http.NewRequestWithContext(
		self.ctx,
		"POST",
		sigConfig.SignHandler,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	attachAuth(req, self.authToken)

	r, err := self.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer r.Body.Close()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &TransportError{Status: r.StatusCode, Err: err}
	}
	if http.StatusOK != r.StatusCode {
		return nil, &TransportError{
			Status: r.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))),
		}
	}
	return bodyBytes, nil
}

type ClaimCallback apiCallback[BlobRef]

// NewSetAttributeClaim signs and uploads a set-attribute claim,
// delivering the uploaded claim blobref.
func (self *ServerConnection) NewSetAttributeClaim(permanode BlobRef, attr string, value string, callback ClaimCallback) {
	self.signAndUploadClaim(newAttributeClaim(permanode, ClaimSetAttribute, attr, value), callback)
}

func (self *ServerConnection) NewAddAttributeClaim(permanode BlobRef, attr string, value string, callback ClaimCallback) {
	self.signAndUploadClaim(newAttributeClaim(permanode, ClaimAddAttribute, attr, value), callback)
}

func (self *ServerConnection) NewDelAttributeClaim(permanode BlobRef, attr string, value string, callback ClaimCallback) {
	self.signAndUploadClaim(newAttributeClaim(permanode, ClaimDelAttribute, attr, value), callback)
}

// the sign/upload/claim triad is a short pipeline.
// failure at any step aborts the remainder and surfaces a single error.
func (self *ServerConnection) signAndUploadClaim(claim *UnsignedClaim, callback ClaimCallback) {
	go func() {
		claim.CamliSigner = self.config.Signing.publicKeySignerString()

		signedBytes, err := self.signSync(claim)
		if err != nil {
			glog.Infof("[api]claim sign error = %s\n", err)
			callback.Result(BlobRef{}, err)
			return
		}

		received, err := self.uploadBlobSync(signedBytes)
		if err != nil {
			glog.Infof("[api]claim upload error = %s\n", err)
			callback.Result(BlobRef{}, err)
			return
		}
		glog.V(2).Infof("[api]claim %s %s=%s -> %s\n", claim.ClaimType, claim.Attribute, claim.Value, received.BlobRef)
		callback.Result(received.BlobRef, nil)
	}()
}

func (self *SigningConfig) publicKeySignerString() string {
	if self == nil {
		return ""
	}
	if self.PublicKeyBlobRef.IsZero() {
		return ""
	}
	return self.PublicKeyBlobRef.String()
}

type CreatePermanodeCallback apiCallback[BlobRef]

// CreatePermanode signs and uploads a new permanode blob with a random nonce.
func (self *ServerConnection) CreatePermanode(callback CreatePermanodeCallback) {
	go func() {
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			callback.Result(BlobRef{}, err)
			return
		}

		permanode := map[string]any{
			"camliVersion": 1,
			"camliType":    TypePermanode,
			"random":       fmt.Sprintf("%x", nonce),
			"camliSigner":  self.config.Signing.publicKeySignerString(),
		}

		signedBytes, err := self.signSync(permanode)
		if err != nil {
			callback.Result(BlobRef{}, err)
			return
		}

		received, err := self.uploadBlobSync(signedBytes)
		if err != nil {
			callback.Result(BlobRef{}, err)
			return
		}
		callback.Result(received.BlobRef, nil)
	}()
}

type ClaimRecord struct {
	BlobRef   BlobRef `json:"blobref"`
	Signer    BlobRef `json:"signer,omitempty"`
	Date      string  `json:"date,omitempty"`
	Type      string  `json:"type,omitempty"`
	Attr      string  `json:"attr,omitempty"`
	Value     string  `json:"value,omitempty"`
	Permanode BlobRef `json:"permanode,omitempty"`
}

type ClaimsResult struct {
	Claims []*ClaimRecord `json:"claims"`
}

type ClaimsCallback apiCallback[*ClaimsResult]

// PermanodeClaims lists the chronological claims folded into a permanode.
func (self *ServerConnection) PermanodeClaims(permanode BlobRef, callback ClaimsCallback) {
	go getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/claims")+"?"+url.Values{"permanode": {permanode.String()}}.Encode(),
		self.authToken,
		&ClaimsResult{},
		callback,
	)
}
