package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/pkg/audio"
)

// maxUploadBytes caps enrollment uploads. Minutes of WAV fit comfortably;
// anything larger is not enrollment audio.
const maxUploadBytes = 64 << 20

// handleEnrollProfile enrolls a new speaker from multipart form data: a
// "name" field plus one or more WAV files under "clips".
func (s *Server) handleEnrollProfile(w http.ResponseWriter, r *http.Request) {
	name, clips, err := parseEnrollment(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	p, err := s.app.Enroller().Enroll(r.Context(), name, clips)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if m := s.app.Metrics(); m != nil {
		m.EnrolledProfiles.Add(r.Context(), 1)
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Store().List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if list == nil {
		list = []profile.Summary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"profiles": list})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.app.Store().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// handleLookupProfile resolves ?name= to a profile, tolerating case
// differences and phonetically close spellings.
func (s *Server) handleLookupProfile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		respondError(w, http.StatusBadRequest, "name query parameter is required")
		return
	}
	p, err := profile.LookupByName(r.Context(), s.app.Store(), name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleSearchProfiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	matches, err := profile.Search(r.Context(), s.app.Store(), query)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if matches == nil {
		matches = []profile.Summary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"profiles": matches})
}

// handleReEnrollProfile replaces a profile's embeddings wholesale with ones
// derived from the uploaded clips.
func (s *Server) handleReEnrollProfile(w http.ResponseWriter, r *http.Request) {
	_, clips, err := parseEnrollment(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.app.Enroller().ReEnroll(r.Context(), r.PathValue("id"), clips)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// renameRequest is the JSON body for profile renaming.
type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameProfile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	p, err := s.app.Enroller().Rename(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleRemoveProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Store().Remove(r.Context(), r.PathValue("id")); err != nil {
		respondDomainError(w, err)
		return
	}
	if m := s.app.Metrics(); m != nil {
		m.EnrolledProfiles.Add(r.Context(), -1)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIdentify identifies the speaker of one clip outside any session. The
// clip arrives either as a raw WAV request body or as the first "clip" file
// of a multipart form.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	clip, err := readIdentifyClip(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.app.IdentifyClip(r.Context(), clip.PCM, clip.SampleRate)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// parseEnrollment extracts the name field and decoded clips from a multipart
// enrollment request.
func parseEnrollment(r *http.Request) (name string, clips []profile.Clip, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, fmt.Errorf("parse multipart form: %w", err)
	}
	name = r.FormValue("name")

	files := r.MultipartForm.File["clips"]
	if len(files) == 0 {
		return "", nil, fmt.Errorf("at least one WAV file is required under the %q field", "clips")
	}
	for _, fh := range files {
		clip, err := decodeClipFile(fh)
		if err != nil {
			return "", nil, fmt.Errorf("clip %q: %w", fh.Filename, err)
		}
		clips = append(clips, clip)
	}
	return name, clips, nil
}

// readIdentifyClip pulls one WAV clip out of the request, whichever way it
// was sent.
func readIdentifyClip(r *http.Request) (profile.Clip, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "multipart/") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return profile.Clip{}, fmt.Errorf("parse multipart form: %w", err)
		}
		files := r.MultipartForm.File["clip"]
		if len(files) == 0 {
			files = r.MultipartForm.File["clips"]
		}
		if len(files) == 0 {
			return profile.Clip{}, fmt.Errorf("a WAV file is required under the %q field", "clip")
		}
		return decodeClipFile(files[0])
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return profile.Clip{}, fmt.Errorf("read request body: %w", err)
	}
	return decodeClip(data)
}

// decodeClipFile opens and decodes one uploaded WAV file.
func decodeClipFile(fh *multipart.FileHeader) (profile.Clip, error) {
	f, err := fh.Open()
	if err != nil {
		return profile.Clip{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return profile.Clip{}, err
	}
	return decodeClip(data)
}

// decodeClip parses WAV bytes into a mono clip, downmixing stereo.
func decodeClip(data []byte) (profile.Clip, error) {
	pcm, rate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		return profile.Clip{}, err
	}
	switch channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return profile.Clip{}, fmt.Errorf("unsupported channel count %d, want mono or stereo", channels)
	}
	return profile.Clip{PCM: pcm, SampleRate: rate}, nil
}
