package server

import (
	"net/http"
	"strings"

	"github.com/ccfrost/guestdrive/internal/apperr"
	"github.com/ccfrost/guestdrive/internal/relay"
	"github.com/go-playground/validator/v10"
)

// UploadRequest is the decoded body of POST /api/upload.
type UploadRequest struct {
	Name  string       `validate:"required"`
	Files []relay.Item `validate:"min=1"`
}

type uploadResponse struct {
	Success    bool   `json:"success"`
	FolderName string `json:"folderName,omitempty"`
	Message    string `json:"message,omitempty"`
}

// fileFields are the form names accepted for files.
var fileFields = map[string]bool{"files[]": true, "files": true}

// decodeUpload reads the multipart body into an UploadRequest. Unknown fields
// are ignored.
func (s *Server) decodeUpload(r *http.Request) (*UploadRequest, error) {
	req := &UploadRequest{}
	for part, err := range Parts(r, s.maxFileBytes) {
		if err != nil {
			return nil, err
		}
		switch {
		case part.FormName == "name" && !part.IsFile():
			req.Name = strings.TrimSpace(string(part.Data))
		case fileFields[part.FormName] && part.IsFile():
			if len(req.Files) >= s.maxFiles {
				return nil, apperr.Validationf("at most %d files can be uploaded at once", s.maxFiles)
			}
			req.Files = append(req.Files, relay.Item{
				Name:     part.FileName,
				MimeType: part.ContentType,
				Data:     part.Data,
			})
		default:
			s.logger.Debug("ignoring form part", "field", part.FormName, "file", part.FileName)
		}
	}
	return req, nil
}

func (s *Server) validateUpload(req *UploadRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Name":
			return apperr.Validationf("name is required")
		case "Files":
			return apperr.Validationf("select at least one photo")
		}
	}
	return apperr.Validationf("invalid upload request: %v", err)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes())

	req, err := s.decodeUpload(r)
	if err == nil {
		err = s.validateUpload(req)
	}
	if err == nil {
		var res *relay.Result
		res, err = s.uploader.Handle(ctx, req.Name, req.Files)
		if err == nil {
			s.logger.Info("upload complete", "folder", res.FolderName, "files", len(req.Files), "requestId", requestID(r))
			writeJSON(w, http.StatusOK, uploadResponse{Success: true, FolderName: res.FolderName})
			return
		}
	}

	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("upload failed", "error", err, "kind", apperr.KindOf(err), "requestId", requestID(r))
	} else {
		s.logger.Info("upload rejected", "error", err, "status", status, "requestId", requestID(r))
	}
	writeJSON(w, status, uploadResponse{
		Success: false,
		Message: apperr.PublicMessage(err, "upload failed, please try again later"),
	})
}

// maxBodyBytes bounds the whole request: every file at the limit plus room
// for the form fields and multipart framing.
func (s *Server) maxBodyBytes() int64 {
	return int64(s.maxFiles)*s.maxFileBytes + 1024*1024
}
