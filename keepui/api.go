package keepui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// ServerConnection is a stateless facade over the server's json endpoints.
// All paths come from the discovery document, which is read once at boot.
type ServerConnection struct {
	ctx    context.Context
	cancel context.CancelFunc

	config *DiscoveryDocument

	authToken string

	httpClient *http.Client
}

func NewServerConnection(config *DiscoveryDocument) *ServerConnection {
	return NewServerConnectionWithContext(context.Background(), config)
}

func NewServerConnectionWithContext(ctx context.Context, config *DiscoveryDocument) *ServerConnection {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &ServerConnection{
		ctx:        cancelCtx,
		cancel:     cancel,
		config:     config,
		httpClient: defaultClient(),
	}
}

func (self *ServerConnection) Config() *DiscoveryDocument {
	return self.config
}

// this gets attached to every request that follows
func (self *ServerConnection) SetAuthToken(authToken string) {
	self.authToken = authToken
}

func (self *ServerConnection) Close() {
	self.cancel()
}

func (self *ServerConnection) searchUrl(suffix string) string {
	return strings.TrimSuffix(self.config.SearchRoot, "/") + "/" + suffix
}

func (self *ServerConnection) blobUrl(suffix string) string {
	return strings.TrimSuffix(self.config.BlobRoot, "/") + "/" + suffix
}

// DescribeRequest is the describe section of a search query.
// Fields beyond the thumbnail size are forwarded opaquely.
type DescribeRequest struct {
	ThumbnailSize int `json:"thumbnailSize,omitempty"`
	Depth         int `json:"depth,omitempty"`
}

// SearchQuery is the standing-query payload for POST camli/search.
// The constraint/expression content is server-understood and opaque here.
type SearchQuery struct {
	Expression string           `json:"expression,omitempty"`
	Constraint json.RawMessage  `json:"constraint,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
	Continue   string           `json:"continue,omitempty"`
	Sort       string           `json:"sort,omitempty"`
	Describe   *DescribeRequest `json:"describe,omitempty"`
}

func (self *SearchQuery) Clone() *SearchQuery {
	out := *self
	if self.Describe != nil {
		describe := *self.Describe
		out.Describe = &describe
	}
	return &out
}

type SearchResultBlob struct {
	Blob BlobRef `json:"blob"`
}

type DescribeResponse struct {
	Meta MetaBag `json:"meta"`
}

type SearchResult struct {
	Blobs       []*SearchResultBlob `json:"blobs"`
	Description *DescribeResponse   `json:"description,omitempty"`
	Continue    string              `json:"continue,omitempty"`
}

type SearchCallback apiCallback[*SearchResult]

func (self *ServerConnection) Search(query *SearchQuery, callback SearchCallback) {
	go postJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search"),
		query,
		self.authToken,
		&SearchResult{},
		callback,
	)
}

func (self *ServerConnection) SearchSync(query *SearchQuery) (*SearchResult, error) {
	return postJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search"),
		query,
		self.authToken,
		&SearchResult{},
		NewNoopApiCallback[*SearchResult](),
	)
}

type DescribeCallback apiCallback[*DescribeResponse]

func (self *ServerConnection) Describe(ref BlobRef, thumbnailSize int, callback DescribeCallback) {
	values := url.Values{}
	values.Set("blobref", ref.String())
	values.Set("thumbnails", strconv.Itoa(thumbnailSize))
	go getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/describe")+"?"+values.Encode(),
		self.authToken,
		&DescribeResponse{},
		callback,
	)
}

func (self *ServerConnection) DescribeSync(ref BlobRef, thumbnailSize int) (*DescribeResponse, error) {
	values := url.Values{}
	values.Set("blobref", ref.String())
	values.Set("thumbnails", strconv.Itoa(thumbnailSize))
	return getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/describe")+"?"+values.Encode(),
		self.authToken,
		&DescribeResponse{},
		NewNoopApiCallback[*DescribeResponse](),
	)
}

type RecentItem struct {
	BlobRef BlobRef `json:"blobref"`
	ModTime string  `json:"modtime,omitempty"`
	Owner   BlobRef `json:"owner,omitempty"`
}

type RecentResult struct {
	Recent   []*RecentItem `json:"recent"`
	Meta     MetaBag       `json:"meta,omitempty"`
	Continue string        `json:"continue,omitempty"`
}

type RecentCallback apiCallback[*RecentResult]

func (self *ServerConnection) GetRecent(thumbnailSize int, continueToken string, callback RecentCallback) {
	values := url.Values{}
	values.Set("thumbnails", strconv.Itoa(thumbnailSize))
	if continueToken != "" {
		values.Set("continue", continueToken)
	}
	go getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/recent")+"?"+values.Encode(),
		self.authToken,
		&RecentResult{},
		callback,
	)
}

type WithAttrItem struct {
	Permanode BlobRef `json:"permanode"`
}

type WithAttrResult struct {
	WithAttr []*WithAttrItem `json:"withAttr"`
	Meta     MetaBag         `json:"meta,omitempty"`
}

type WithAttrCallback apiCallback[*WithAttrResult]

func (self *ServerConnection) PermanodesWithAttr(
	signer BlobRef,
	attr string,
	value string,
	fuzzy bool,
	max int,
	thumbnailSize int,
	callback WithAttrCallback,
) {
	values := url.Values{}
	values.Set("signer", signer.String())
	values.Set("attr", attr)
	values.Set("value", value)
	values.Set("fuzzy", strconv.FormatBool(fuzzy))
	values.Set("max", strconv.Itoa(max))
	values.Set("thumbnails", strconv.Itoa(thumbnailSize))
	go getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/permanodeattr")+"?"+values.Encode(),
		self.authToken,
		&WithAttrResult{},
		callback,
	)
}

type FileTreeCallback apiCallback[*FileTreeNode]

func (self *ServerConnection) FileTree(dir BlobRef, callback FileTreeCallback) {
	go getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/filetree")+"?"+url.Values{"blobref": {dir.String()}}.Encode(),
		self.authToken,
		&FileTreeNode{},
		callback,
	)
}

type ExistingFilesResult struct {
	Files []BlobRef `json:"files"`
}

type ExistingFilesCallback apiCallback[*ExistingFilesResult]

// FindExistingFileSchemas asks for file-schema blobs whose whole contents
// hash to wholeRef. Used by the upload dedup fast path.
func (self *ServerConnection) FindExistingFileSchemas(wholeRef BlobRef, callback ExistingFilesCallback) {
	go getJson(
		self.ctx,
		self.httpClient,
		self.searchUrl("camli/search/files")+"?"+url.Values{"wholedigest": {wholeRef.String()}}.Encode(),
		self.authToken,
		&ExistingFilesResult{},
		callback,
	)
}

type BlobContentsCallback apiCallback[[]byte]

func (self *ServerConnection) GetBlobContents(ref BlobRef, callback BlobContentsCallback) {
	go func() {
		bodyBytes, err := self.getBytes(self.blobUrl("camli/" + ref.String()))
		callback.Result(bodyBytes, err)
	}()
}

func (self *ServerConnection) GetBlobContentsSync(ref BlobRef) ([]byte, error) {
	return self.getBytes(self.blobUrl("camli/" + ref.String()))
}

func (self *ServerConnection) getBytes(requestUrl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(self.ctx, "GET", requestUrl, nil)
	if err != nil {
		return nil, err
	}
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

func attachAuth(req *http.Request, authToken string) {
	if authToken != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", authToken))
	}
}

// decode the body into result. A 2xx body carrying an `error` field is
// surfaced as a ServerError so callers see the server's own message.
func decodeApiResponse[R any](statusCode int, bodyBytes []byte, result R) (R, error) {
	if http.StatusOK != statusCode {
		var empty R
		serverError := &struct {
			Error string `json:"error"`
		}{}
		if err := json.Unmarshal(bodyBytes, serverError); err == nil && serverError.Error != "" {
			return empty, &ServerError{Message: serverError.Error}
		}
		return empty, &TransportError{
			Status: statusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(bodyBytes))),
		}
	}

	serverError := &struct {
		Error string `json:"error"`
	}{}
	if err := json.Unmarshal(bodyBytes, serverError); err == nil && serverError.Error != "" {
		var empty R
		return empty, &ServerError{Message: serverError.Error}
	}

	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		var empty R
		return empty, err
	}
	return result, nil
}

func postJson[R any](
	ctx context.Context,
	httpClient *http.Client,
	requestUrl string,
	args any,
	authToken string,
	result R,
	callback apiCallback[R],
) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", requestUrl, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	attachAuth(req, authToken)

	r, err := httpClient.Do(req)
	if err != nil {
		var empty R
		transportErr := &TransportError{Err: err}
		callback.Result(empty, transportErr)
		return empty, transportErr
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var empty R
		transportErr := &TransportError{Status: r.StatusCode, Err: err}
		callback.Result(empty, transportErr)
		return empty, transportErr
	}

	result, err = decodeApiResponse(r.StatusCode, responseBodyBytes, result)
	callback.Result(result, err)
	return result, err
}

func getJson[R any](
	ctx context.Context,
	httpClient *http.Client,
	requestUrl string,
	authToken string,
	result R,
	callback apiCallback[R],
) (R, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", requestUrl, nil)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	attachAuth(req, authToken)

	r, err := httpClient.Do(req)
	if err != nil {
		var empty R
		transportErr := &TransportError{Err: err}
		callback.Result(empty, transportErr)
		return empty, transportErr
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var empty R
		transportErr := &TransportError{Status: r.StatusCode, Err: err}
		callback.Result(empty, transportErr)
		return empty, transportErr
	}

	result, err = decodeApiResponse(r.StatusCode, responseBodyBytes, result)
	callback.Result(result, err)
	return result, err
}
