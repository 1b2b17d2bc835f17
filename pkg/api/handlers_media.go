package api

import (
	"net/http"

	"chatrixx/pkg/utils"
)

const maxUploadBytes = 32 << 20

// upload hands the request file to the media collaborator and returns the
// attachment metadata the client should reference in a file message.
func (a *API) upload(w http.ResponseWriter, r *http.Request) {
	if a.uploader == nil {
		utils.JSONError(w, http.StatusNotImplemented, "media storage is not configured")
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer f.Close()

	att, err := a.uploader.Upload(r.Context(), hdr.Filename, hdr.Header.Get("Content-Type"), f)
	if err != nil {
		writeFault(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, att)
}
