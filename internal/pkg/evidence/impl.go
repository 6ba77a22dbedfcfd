package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/labstack/echo/v4"
	"github.com/samber/do/v2"
	"github.com/vreid/kakunin/internal/pkg/common"
	"github.com/vreid/kakunin/internal/pkg/match"
	"github.com/vreid/kakunin/internal/pkg/verification"
	"go.uber.org/zap"
)

const URLPrefix = "/evidence"

var ErrUnsupportedMedia = errors.New("unsupported evidence file")

//nolint:gochecknoglobals
var mediaKinds = map[string]verification.EventKind{
	".jpg":  verification.EventPhoto,
	".jpeg": verification.EventPhoto,
	".png":  verification.EventPhoto,
	".webp": verification.EventPhoto,
	".heic": verification.EventPhoto,
	".mp3":  verification.EventVoiceNote,
	".m4a":  verification.EventVoiceNote,
	".aac":  verification.EventVoiceNote,
	".ogg":  verification.EventVoiceNote,
	".opus": verification.EventVoiceNote,
	".wav":  verification.EventVoiceNote,
}

type EvidenceService struct {
	MatchService *match.MatchService
	Logger       *zap.Logger

	EvidenceDir string
}

func NewEvidenceService(i do.Injector) (*EvidenceService, error) {
	matchService := do.MustInvoke[*match.MatchService](i)
	logger := do.MustInvoke[*zap.Logger](i).Named("evidence")
	dataDir := do.MustInvokeNamed[string](i, "data-dir")

	evidenceDir := filepath.Join(dataDir, "evidence")

	err := os.MkdirAll(evidenceDir, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}

	result := &EvidenceService{
		MatchService: matchService,
		Logger:       logger,

		EvidenceDir: evidenceDir,
	}

	echoService, err := do.Invoke[*common.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(func(e *echo.Echo) {
		e.Static(URLPrefix, evidenceDir)

		apiGroup := e.Group("/api")

		apiGroup.POST("/matches/:id/evidence", result.Upload)
	})

	return result, nil
}

// KindOf classifies an upload as photo or voice note by its extension, falling
// back to the declared content type.
func KindOf(file *multipart.FileHeader) (verification.EventKind, error) {
	kind, ok := mediaKinds[strings.ToLower(filepath.Ext(file.Filename))]
	if ok {
		return kind, nil
	}

	contentType := file.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "image/"):
		return verification.EventPhoto, nil
	case strings.HasPrefix(contentType, "audio/"):
		return verification.EventVoiceNote, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMedia, file.Filename)
	}
}

// StoredName keeps the extension and turns the rest of an uploaded file name
// into a safe slug.
func StoredName(index int, filename string) string {
	base := filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(base))

	name := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		name = "file"
	}

	return fmt.Sprintf("%02d-%s%s", index, name, ext)
}

//nolint:cyclop,funlen
func (s *EvidenceService) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	matchID := c.Param("id")

	_, err := s.MatchService.Get(ctx, matchID)
	if err != nil {
		return match.HTTPError(err)
	}

	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to parse multipart form")
	}

	uploadedBy := strings.TrimSpace(c.FormValue("uploaded_by"))
	if uploadedBy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded_by is required")
	}

	var minute *int

	if raw := c.FormValue("minute"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "minute must be a number")
		}

		if value < 0 || value > 150 {
			return echo.NewHTTPError(http.StatusBadRequest, "minute must be between 0 and 150")
		}

		minute = &value
	}

	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files uploaded")
	}

	kinds := make([]verification.EventKind, 0, len(files))

	for _, file := range files {
		kind, err := KindOf(file)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
		}

		kinds = append(kinds, kind)
	}

	_uploadID, err := uuid.NewV7()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate UUID")
	}

	uploadID := _uploadID.String()
	uploadDir := filepath.Join(s.EvidenceDir, matchID, uploadID)

	err = os.MkdirAll(uploadDir, 0750)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create upload directory")
	}

	recorded := 0

	defer func() {
		if err != nil && recorded == 0 {
			_ = os.RemoveAll(uploadDir)
		}
	}()

	index := UploadIndex{
		UploadID:   uploadID,
		MatchID:    matchID,
		UploadedBy: uploadedBy,
		Timestamp:  time.Now().UTC(),
		Files:      make([]string, 0, len(files)),
	}

	events := make([]verification.Event, 0, len(files))

	for n, file := range files {
		name := StoredName(n, file.Filename)

		err = save(file, filepath.Join(uploadDir, name))
		if err != nil {
			s.Logger.Error("failed to store evidence", zap.String("match_id", matchID), zap.Error(err))

			return echo.NewHTTPError(http.StatusInternalServerError, "failed to write file")
		}

		index.Files = append(index.Files, name)

		var eventID uuid.UUID

		eventID, err = uuid.NewV7()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate UUID")
		}

		url := path.Join(URLPrefix, matchID, uploadID, name)

		var payload verification.EventPayload = verification.Photo{
			URL:        url,
			UploadedBy: uploadedBy,
			Caption:    c.FormValue("caption"),
		}
		if kinds[n] == verification.EventVoiceNote {
			payload = verification.VoiceNote{
				URL:        url,
				UploadedBy: uploadedBy,
				Transcript: c.FormValue("transcript"),
			}
		}

		event := verification.Event{
			ID:        eventID.String(),
			MatchID:   matchID,
			Minute:    minute,
			Timestamp: index.Timestamp,
			Payload:   payload,
			Metadata:  nil,
		}

		err = event.Validate()
		if err != nil {
			return match.HTTPError(err)
		}

		events = append(events, event)
	}

	var indexData []byte

	indexData, err = json.MarshalIndent(index, "", "  ")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to marshal index")
	}

	err = os.WriteFile(filepath.Join(uploadDir, "index.json"), indexData, 0600)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to write index file")
	}

	// Files stay on disk once any event points at them.
	for _, event := range events {
		err = s.MatchService.RecordEvent(ctx, event)
		if err != nil {
			s.Logger.Error("failed to record evidence event",
				zap.String("match_id", matchID),
				zap.Int("recorded", recorded),
				zap.Error(err))

			return match.HTTPError(err)
		}

		recorded++
	}

	//nolint:wrapcheck
	return c.JSONPretty(http.StatusCreated, events, "  ")
}

func save(file *multipart.FileHeader, dstPath string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open uploaded file: %w", err)
	}

	defer func() {
		_ = src.Close()
	}()

	//nolint:gosec
	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	defer func() {
		_ = dst.Close()
	}()

	_, err = io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
