package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/Brownie44l1/damage-api/internal/preprocess"
)

const (
	imageField      = "image"
	multipartMemory = 10 << 20
)

// readImage applies the acquisition order: multipart file "image", then a
// raw body, then a text "image" field (rejected later by Normalize).
func (h *Handler) readImage(r *http.Request) (preprocess.RawImage, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return h.readMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			if isTooLarge(err) {
				return preprocess.RawImage{}, err
			}
			h.log.Warnw("malformed form body", "request_id", requestIDFromContext(r.Context()), "error", err)
			return preprocess.RawImage{}, nil
		}
		if _, ok := r.PostForm[imageField]; ok {
			return preprocess.RawImage{Encoding: preprocess.EncodingFormField}, nil
		}
		return preprocess.RawImage{}, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isTooLarge(err) {
			return preprocess.RawImage{}, err
		}
		return preprocess.RawImage{}, fmt.Errorf("read request body: %w", err)
	}
	if len(body) == 0 {
		return preprocess.RawImage{}, nil
	}
	return preprocess.RawImage{Data: body, Encoding: preprocess.EncodingBody}, nil
}

func (h *Handler) readMultipart(r *http.Request) (preprocess.RawImage, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			return preprocess.RawImage{}, err
		}
		h.log.Warnw("malformed multipart body", "request_id", requestIDFromContext(r.Context()), "error", err)
		return preprocess.RawImage{}, nil
	}
	defer r.MultipartForm.RemoveAll()

	if headers := r.MultipartForm.File[imageField]; len(headers) > 0 {
		file, err := headers[0].Open()
		if err != nil {
			return preprocess.RawImage{}, fmt.Errorf("open uploaded file: %w", err)
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return preprocess.RawImage{}, fmt.Errorf("read uploaded file: %w", err)
		}
		h.log.Debugw("received file", "filename", headers[0].Filename, "size", headers[0].Size)
		return preprocess.RawImage{Data: data, Encoding: preprocess.EncodingMultipartFile}, nil
	}

	if _, ok := r.MultipartForm.Value[imageField]; ok {
		return preprocess.RawImage{Encoding: preprocess.EncodingFormField}, nil
	}
	return preprocess.RawImage{}, nil
}
