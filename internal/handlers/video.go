package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"shelfscan/internal/fileutil"
	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/media/ffprobe"
	"shelfscan/internal/media/scenes"
	"shelfscan/internal/recognition"
	"shelfscan/internal/retry"
	"shelfscan/internal/sentiment"
	"shelfscan/internal/services"
	"shelfscan/internal/textutil"
	"shelfscan/internal/transcribe"
)

const (
	// brandCatalogLimit caps the catalog fed to transcript correction.
	brandCatalogLimit = 500

	mediaCollection = "jobs"
	mediaField      = "media"

	// productNameSimilarity is the floor for pairing a recognized product
	// name with a resolved catalog row when no exact name matches.
	productNameSimilarity = 0.5
)

// videoStore is the slice of the job store video processing needs.
type videoStore interface {
	ListBrands(ctx context.Context, limit int) ([]jobstore.Brand, error)
	FindProductByGTIN(ctx context.Context, gtin string) (*jobstore.Product, error)
	SearchProducts(ctx context.Context, name string, limit int) ([]jobstore.Product, error)
	CreateMention(ctx context.Context, mention jobstore.Mention) (*jobstore.Mention, error)
	UploadMedia(ctx context.Context, collection, recordID, field, filename string, media io.Reader) (string, error)
}

type sceneDetector interface {
	Detect(ctx context.Context, path string, duration float64) ([]scenes.Segment, error)
}

type frameExtractor interface {
	ExtractSegmentFrames(ctx context.Context, videoPath string, segment scenes.Segment, dir string) ([]string, error)
	ExtractAudio(ctx context.Context, videoPath, outPath string) (string, error)
}

type segmentAnalyzer interface {
	AnalyzeSegment(ctx context.Context, framePaths []string) (*recognition.SegmentAnalysis, error)
}

type transcriptionService interface {
	Transcribe(ctx context.Context, audioPath string, keywords []string, outputDir string) (*transcribe.Transcript, error)
}

type transcriptCorrector interface {
	Correct(ctx context.Context, transcript *transcribe.Transcript, brandCatalog, productNames []string) (*transcribe.Transcript, llm.Usage, error)
}

type sentimentAnalyzer interface {
	Analyze(ctx context.Context, spans sentiment.Spans, products []jobstore.Product) ([]sentiment.Assessment, llm.Usage, error)
}

type mediaProber interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// VideoHandler runs the full per-video pipeline: segmentation, barcode and
// visual recognition, transcription with sentiment, and mention reporting.
// Segments are processed in order and each one is submitted before the next
// starts, so a lost lease resumes at the cursor's segment.
type VideoHandler struct {
	store       videoStore
	prober      mediaProber
	detector    sceneDetector
	frames      frameExtractor
	analyzer    segmentAnalyzer
	transcriber transcriptionService
	corrector   transcriptCorrector
	sentiments  sentimentAnalyzer
	workDir     string
	logger      *slog.Logger

	// fetch downloads a remote video to path; overridable for tests.
	fetch func(ctx context.Context, url, path string) error
}

// VideoHandlerConfig bundles the pipeline services a VideoHandler drives.
type VideoHandlerConfig struct {
	Store       videoStore
	Prober      mediaProber
	Detector    sceneDetector
	Frames      frameExtractor
	Analyzer    segmentAnalyzer
	Transcriber transcriptionService
	Corrector   transcriptCorrector
	Sentiments  sentimentAnalyzer
	WorkDir     string
	Retry       retry.Policy
	Logger      *slog.Logger
}

// NewVideoHandler constructs the process_video handler.
func NewVideoHandler(cfg VideoHandlerConfig) *VideoHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &VideoHandler{
		store:       cfg.Store,
		prober:      cfg.Prober,
		detector:    cfg.Detector,
		frames:      cfg.Frames,
		analyzer:    cfg.Analyzer,
		transcriber: cfg.Transcriber,
		corrector:   cfg.Corrector,
		sentiments:  cfg.Sentiments,
		workDir:     cfg.WorkDir,
		logger:      logging.NewComponentLogger(logger, "video"),
	}
	policy := cfg.Retry
	client := &http.Client{Timeout: 5 * time.Minute}
	h.fetch = func(ctx context.Context, url, path string) error {
		return policy.Do(ctx, "video download", func(ctx context.Context) error {
			return downloadFile(ctx, client, url, path)
		})
	}
	return h
}

func (h *VideoHandler) Type() jobstore.Type { return jobstore.TypeProcessVideo }

// segmentWork pairs a segment with its recognition analysis from the first
// pass over the video.
type segmentWork struct {
	segment  scenes.Segment
	analysis *recognition.SegmentAnalysis
}

func (h *VideoHandler) Handle(ctx context.Context, handle JobHandle) error {
	raw, err := jobstore.DecodeCursor(handle.Job())
	if err != nil {
		return services.Wrap(services.ErrValidation, "video", "cursor", "", err)
	}
	cursor := raw.(jobstore.VideoCursor)
	if cursor.VideoURL == "" {
		return services.Wrap(services.ErrValidation, "video", "cursor", "missing video url", nil)
	}

	dir, err := os.MkdirTemp(h.workDir, "video-")
	if err != nil {
		return services.Wrap(services.ErrTransient, "video", "workdir", "", err)
	}
	defer os.RemoveAll(dir)

	videoPath, err := h.localVideo(ctx, cursor.VideoURL, dir)
	if err != nil {
		return err
	}

	probe, err := h.prober.Inspect(ctx, videoPath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "video", "probe", "", err)
	}
	if !probe.HasVideoStream() {
		return services.Wrap(services.ErrValidation, "video", "probe", "no video stream", nil)
	}
	duration := probe.DurationSeconds()
	if duration <= 0 {
		return services.Wrap(services.ErrValidation, "video", "probe", "video has no playable duration", nil)
	}

	// Upload once; the cursor-only submission pins the media id so a crash
	// after this point never re-uploads. A crash before it orphans the
	// upload, which is accepted.
	if cursor.MediaID == "" {
		mediaID, err := h.uploadVideo(ctx, handle.Job().ID, videoPath)
		if err != nil {
			return err
		}
		cursor.MediaID = mediaID
		if err := handle.Submit(ctx, jobstore.Submission{Cursor: cursor}); err != nil {
			return err
		}
	}

	segments, err := h.detector.Detect(ctx, videoPath, duration)
	if err != nil {
		return services.Wrap(services.ErrTransient, "video", "scene detection", "", err)
	}

	work, analysisUsage, err := h.analyzeSegments(services.WithStage(ctx, "analyze"), videoPath, dir, segments)
	if err != nil {
		return err
	}

	var pendingTokens int
	var pendingErrors []jobstore.ItemError
	pendingTokens += analysisUsage.TotalTokens

	transcript, correctionUsage, transcriptionErrs := h.transcribeVideo(services.WithStage(ctx, "transcribe"), videoPath, dir, probe, work)
	pendingTokens += correctionUsage.TotalTokens
	pendingErrors = append(pendingErrors, transcriptionErrs...)

	reportCtx := services.WithStage(ctx, "report")
	for i := cursor.SegmentIndex; i < len(work); i++ {
		mentions, segmentUsage, err := h.reportSegment(reportCtx, cursor, transcript, work[i])
		if err != nil {
			return err
		}

		cursor.SegmentIndex = i + 1
		submission := jobstore.Submission{
			Cursor:     cursor,
			Created:    mentions,
			ItemErrors: pendingErrors,
			TokensUsed: pendingTokens + segmentUsage.TotalTokens,
		}
		if submission.Created == 0 && submission.TokensUsed == 0 && len(submission.ItemErrors) == 0 {
			continue
		}
		if err := handle.Submit(ctx, submission); err != nil {
			return err
		}
		pendingTokens = 0
		pendingErrors = nil
	}

	logging.WithContext(ctx, h.logger).Info("video processed",
		logging.String(logging.FieldSourceURL, cursor.VideoURL),
		logging.Float64("duration_seconds", duration),
		logging.Int("segments", len(work)))
	return handle.Complete(ctx, jobstore.Submission{
		Cursor:     cursor,
		ItemErrors: pendingErrors,
		TokensUsed: pendingTokens,
	})
}

// localVideo materializes the cursor's video on disk: remote URLs are
// downloaded, anything else is treated as an existing local path.
func (h *VideoHandler) localVideo(ctx context.Context, url, dir string) (string, error) {
	path := filepath.Join(dir, "source"+videoExtension(url))
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		if _, err := os.Stat(url); err != nil {
			return "", services.Wrap(services.ErrValidation, "video", "source", "", err)
		}
		// Local sources are copied into the working directory so cleanup
		// never touches the caller's file.
		if err := fileutil.CopyFileVerified(url, path); err != nil {
			return "", services.Wrap(services.ErrTransient, "video", "copy source", "", err)
		}
		return path, nil
	}
	if err := h.fetch(ctx, url, path); err != nil {
		return "", services.Wrap(services.ErrTransient, "video", "download", url, err)
	}
	return path, nil
}

func (h *VideoHandler) uploadVideo(ctx context.Context, jobID, videoPath string) (string, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "video", "open media", "", err)
	}
	defer file.Close()
	filename := textutil.SanitizeFileName(filepath.Base(videoPath))
	mediaID, err := h.store.UploadMedia(ctx, mediaCollection, jobID, mediaField, filename, file)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "video", "upload media", "", err)
	}
	return mediaID, nil
}

// analyzeSegments is the first pass: frames, barcode scan, clustering, and
// recognition per segment, strictly in order. Segment numbering and cluster
// state depend on prior segments, so no fan-out here.
func (h *VideoHandler) analyzeSegments(ctx context.Context, videoPath, dir string, segments []scenes.Segment) ([]segmentWork, llm.Usage, error) {
	work := make([]segmentWork, 0, len(segments))
	var usage llm.Usage
	for i, segment := range segments {
		frameDir := filepath.Join(dir, fmt.Sprintf("segment-%04d", i))
		if err := os.MkdirAll(frameDir, 0o755); err != nil {
			return nil, usage, services.Wrap(services.ErrTransient, "video", "frame dir", "", err)
		}
		framePaths, err := h.frames.ExtractSegmentFrames(ctx, videoPath, segment, frameDir)
		if err != nil {
			return nil, usage, services.Wrap(services.ErrTransient, "video", "extract frames", "", err)
		}
		analysis, err := h.analyzer.AnalyzeSegment(ctx, framePaths)
		if err != nil {
			return nil, usage, services.Wrap(services.ErrTransient, "video", "analyze segment", "", err)
		}
		usage.Add(analysis.Usage)
		logging.WithContext(ctx, h.logger).Debug("segment analyzed",
			logging.Int(logging.FieldSegment, i),
			logging.Int("frames", len(framePaths)),
			logging.Int("results", len(analysis.Results)))
		work = append(work, segmentWork{segment: segment, analysis: analysis})
	}
	return work, usage, nil
}

// transcribeVideo extracts audio, transcribes with a boost list built from
// the recognized names, and runs one correction pass over the whole
// transcript. Transcription is additive: any failure here is reported as an
// item error and the visual results still stand.
func (h *VideoHandler) transcribeVideo(ctx context.Context, videoPath, dir string, probe ffprobe.Result, work []segmentWork) (*transcribe.Transcript, llm.Usage, []jobstore.ItemError) {
	var usage llm.Usage
	if !probe.HasAudioStream() {
		return nil, usage, nil
	}

	audioPath, err := h.frames.ExtractAudio(ctx, videoPath, filepath.Join(dir, "audio.wav"))
	if err != nil {
		return nil, usage, []jobstore.ItemError{transcriptionError("extract audio", err)}
	}

	keywords, productNames := recognizedNames(work)
	transcript, err := h.transcriber.Transcribe(ctx, audioPath, keywords, dir)
	if err != nil {
		return nil, usage, []jobstore.ItemError{transcriptionError("transcribe", err)}
	}
	if transcript == nil || len(transcript.Words) == 0 {
		return transcript, usage, nil
	}

	catalog, err := h.brandCatalog(ctx)
	if err != nil {
		// Correction is an enhancement; the raw transcript is still usable.
		logging.WithContext(ctx, h.logger).Warn("brand catalog unavailable, skipping transcript correction",
			logging.Error(err))
		return transcript, usage, nil
	}
	corrected, correctionUsage, err := h.corrector.Correct(ctx, transcript, catalog, productNames)
	usage.Add(correctionUsage)
	if err != nil {
		logging.WithContext(ctx, h.logger).Warn("transcript correction failed, keeping raw transcript",
			logging.Error(err))
		return transcript, usage, nil
	}
	return corrected, usage, nil
}

// reportSegment is the second pass for one segment: resolve products,
// score sentiment, and create one mention per recognition hit.
func (h *VideoHandler) reportSegment(ctx context.Context, cursor jobstore.VideoCursor, transcript *transcribe.Transcript, item segmentWork) (int, llm.Usage, error) {
	var usage llm.Usage
	analysis := item.analysis

	products, err := sentiment.ResolveProducts(ctx, h.store, analysis)
	if err != nil {
		return 0, usage, services.Wrap(services.ErrTransient, "video", "resolve products", "", err)
	}

	spans := sentiment.SliceSpans(transcript, item.segment.Start, item.segment.End)
	assessments, sentimentUsage, err := h.sentiments.Analyze(ctx, spans, products)
	usage.Add(sentimentUsage)
	if err != nil {
		return 0, usage, err
	}
	byProduct := make(map[string]sentiment.Assessment, len(assessments))
	for _, assessment := range assessments {
		byProduct[assessment.ProductID] = assessment
	}

	mentions := buildMentions(cursor, item, products, byProduct)
	for _, mention := range mentions {
		if _, err := h.store.CreateMention(ctx, mention); err != nil {
			return 0, usage, services.Wrap(services.ErrTransient, "video", "create mention", "", err)
		}
	}
	return len(mentions), usage, nil
}

// buildMentions emits one mention per recognition result, or a single
// barcode mention. Sentiment attaches by resolved product id.
func buildMentions(cursor jobstore.VideoCursor, item segmentWork, products []jobstore.Product, byProduct map[string]sentiment.Assessment) []jobstore.Mention {
	analysis := item.analysis
	base := jobstore.Mention{
		VideoURL:     cursor.VideoURL,
		MediaID:      cursor.MediaID,
		SegmentStart: item.segment.Start,
		SegmentEnd:   item.segment.End,
		MatchType:    analysis.MatchType,
		ReportedAt:   time.Now().UTC(),
	}

	if analysis.MatchType == recognition.MatchBarcode {
		mention := base
		mention.Barcode = analysis.Barcode
		if len(products) > 0 {
			mention.ProductID = products[0].ID
			attachSentiment(&mention, byProduct)
		}
		return []jobstore.Mention{mention}
	}

	mentions := make([]jobstore.Mention, 0, len(analysis.Results))
	productByName := make(map[string]string, len(products))
	for _, product := range products {
		productByName[strings.ToLower(product.Name)] = product.ID
	}
	for _, result := range analysis.Results {
		mention := base
		mention.Brand = result.Brand
		mention.ProductName = result.ProductName
		mention.ProductID = matchProductID(result, products, productByName)
		attachSentiment(&mention, byProduct)
		mentions = append(mentions, mention)
	}
	return mentions
}

func attachSentiment(mention *jobstore.Mention, byProduct map[string]sentiment.Assessment) {
	if mention.ProductID == "" {
		return
	}
	assessment, ok := byProduct[mention.ProductID]
	if !ok {
		return
	}
	mention.Sentiment = assessment.Sentiment
	mention.Score = assessment.Score
	mention.Quotes = assessment.Quotes
}

// matchProductID pairs a recognition result with the resolved product that
// best corresponds to it: exact name match first, then the single resolved
// product if there is only one.
func matchProductID(result recognition.Result, products []jobstore.Product, byName map[string]string) string {
	if id, ok := byName[strings.ToLower(result.ProductName)]; ok {
		return id
	}
	if query := textutil.NewFingerprint(result.ProductName); query != nil {
		bestID, best := "", 0.0
		for _, product := range products {
			score := textutil.CosineSimilarity(query, textutil.NewFingerprint(product.Name))
			if score > best {
				bestID, best = product.ID, score
			}
		}
		if best >= productNameSimilarity {
			return bestID
		}
	}
	if len(products) == 1 {
		return products[0].ID
	}
	return ""
}

func (h *VideoHandler) brandCatalog(ctx context.Context) ([]string, error) {
	brands, err := h.store.ListBrands(ctx, brandCatalogLimit)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(brands))
	for _, brand := range brands {
		names = append(names, brand.Name)
	}
	return names, nil
}

// recognizedNames collects every brand and product name from the first pass
// for the speech-to-text boost list and the correction prompt.
func recognizedNames(work []segmentWork) (keywords, productNames []string) {
	seen := make(map[string]bool)
	add := func(name string, products bool) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			keywords = append(keywords, name)
		}
		if products {
			productNames = append(productNames, name)
		}
	}
	for _, item := range work {
		for _, result := range item.analysis.Results {
			add(result.Brand, false)
			add(result.ProductName, true)
		}
	}
	return keywords, productNames
}

func transcriptionError(stage string, err error) jobstore.ItemError {
	return jobstore.ItemError{
		Item:    "transcription",
		Kind:    services.Kind(err),
		Message: stage + ": " + err.Error(),
	}
}

func videoExtension(url string) string {
	ext := filepath.Ext(url)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "?&") {
		return ".mp4"
	}
	return ext
}

func downloadFile(ctx context.Context, client *http.Client, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Non-2xx is permanent for retry purposes.
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
