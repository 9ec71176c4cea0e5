package keepui

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
)

type UploadBlobCallback apiCallback[*SizedBlobRef]

type uploadResponse struct {
	Received []*SizedBlobRef `json:"received"`
}

// UploadBlob uploads raw bytes to the blob root and delivers the received
// blobref. Identical bytes always converge on the same ref, so concurrent
// uploads of the same content are safe.
func (self *ServerConnection) UploadBlob(blobBytes []byte, callback UploadBlobCallback) {
	go func() {
		received, err := self.uploadBlobSync(blobBytes)
		callback.Result(received, err)
	}()
}

func (self *ServerConnection) uploadBlobSync(blobBytes []byte) (*SizedBlobRef, error) {
	hashResult, err := HashBytes(bytes.NewReader(blobBytes), HashBytesOptions{})
	if err != nil {
		return nil, err
	}
	ref := hashResult.Ref

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(ref.String(), ref.String())
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(blobBytes); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(self.ctx, "POST", self.blobUrl("camli/upload"), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", writer.FormDataContentType())
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

	response, err := decodeApiResponse(r.StatusCode, bodyBytes, &uploadResponse{})
	if err != nil {
		return nil, err
	}
	for _, received := range response.Received {
		if received.BlobRef == ref {
			glog.V(2).Infof("[api]upload %s (%d bytes)\n", received.BlobRef, received.Size)
			return received, nil
		}
	}
	return nil, fmt.Errorf("upload response did not include %s", ref)
}

// UploadString uploads the utf-8 bytes of s.
func (self *ServerConnection) UploadString(s string, callback UploadBlobCallback) {
	self.UploadBlob([]byte(s), callback)
}

type UploadFileOptions struct {
	// called with the locally computed whole-content ref before any
	// network round trip
	OnContentsRef func(contentsRef BlobRef)
}

type UploadFileCallback apiCallback[BlobRef]

type uploadHelperGot struct {
	FileName string  `json:"filename"`
	FileRef  BlobRef `json:"fileref"`
}

type uploadHelperResponse struct {
	Got []*uploadHelperGot `json:"got"`
}

// UploadFile uploads a named file and delivers the file-schema blobref.
//
// Dedup fast path first:
//  1. hash the contents locally,
//  2. ask for existing file schemas with that whole digest,
//  3. accept a candidate iff a HEAD on the download helper with
//     verifycontents echoes the matching X-Camli-Contents header,
//  4. otherwise fall back to uploading the bytes through the upload helper.
func (self *ServerConnection) UploadFile(fileName string, contents []byte, options UploadFileOptions, callback UploadFileCallback) {
	go func() {
		fileRef, err := self.uploadFileSync(fileName, contents, options)
		callback.Result(fileRef, err)
	}()
}

func (self *ServerConnection) uploadFileSync(fileName string, contents []byte, options UploadFileOptions) (BlobRef, error) {
	hashResult, err := HashBytes(bytes.NewReader(contents), HashBytesOptions{})
	if err != nil {
		return BlobRef{}, err
	}
	contentsRef := hashResult.Ref
	if options.OnContentsRef != nil {
		options.OnContentsRef(contentsRef)
	}

	existingCallback, existingChannel := NewBlockingApiCallback[*ExistingFilesResult]()
	self.FindExistingFileSchemas(contentsRef, existingCallback)
	existing := <-existingChannel
	if existing.Error == nil && existing.Result != nil {
		for _, candidate := range existing.Result.Files {
			if self.verifyContents(candidate, fileName, contentsRef) {
				glog.V(2).Infof("[api]upload dedup hit %s -> %s\n", contentsRef, candidate)
				return candidate, nil
			}
		}
	}

	return self.uploadFileHelper(fileName, contents)
}

// HEAD the download helper and accept iff the server echoes the
// matching X-Camli-Contents header.
func (self *ServerConnection) verifyContents(fileRef BlobRef, fileName string, contentsRef BlobRef) bool {
	name := fileName
	if name == "" {
		name = fileRef.String()
	}
	requestUrl := strings.TrimSuffix(self.config.DownloadHelper, "/") + "/" +
		fileRef.String() + "/" + url.PathEscape(name) +
		"?verifycontents=" + url.QueryEscape(contentsRef.String())

	req, err := http.NewRequestWithContext(self.ctx, "HEAD", requestUrl, nil)
	if err != nil {
		return false
	}
	attachAuth(req, self.authToken)

	r, err := self.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer r.Body.Close()

	if http.StatusOK != r.StatusCode {
		return false
	}
	return r.Header.Get("X-Camli-Contents") == contentsRef.String()
}

func (self *ServerConnection) uploadFileHelper(fileName string, contents []byte) (BlobRef, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("ui-upload-file-helper-form", fileName)
	if err != nil {
		return BlobRef{}, err
	}
	if _, err := part.Write(contents); err != nil {
		return BlobRef{}, err
	}
	if err := writer.Close(); err != nil {
		return BlobRef{}, err
	}

	req, err := http.NewRequestWithContext(self.ctx, "POST", self.config.UploadHelper, &body)
	if err != nil {
		return BlobRef{}, err
	}
	req.Header.Add("Content-Type", writer.FormDataContentType())
	attachAuth(req, self.authToken)

	r, err := self.httpClient.Do(req)
	if err != nil {
		return BlobRef{}, &TransportError{Err: err}
	}
	defer r.Body.Close()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return BlobRef{}, &TransportError{Status: r.StatusCode, Err: err}
	}

	response, err := decodeApiResponse(r.StatusCode, bodyBytes, &uploadHelperResponse{})
	if err != nil {
		return BlobRef{}, err
	}
	if len(response.Got) == 0 {
		return BlobRef{}, fmt.Errorf("upload helper returned no file schema for %q", fileName)
	}
	return response.Got[0].FileRef, nil
}
