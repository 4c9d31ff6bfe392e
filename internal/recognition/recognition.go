// Package recognition analyzes one segment's extracted frames: a barcode
// pass that short-circuits everything else on a hit, then perceptual-hash
// clustering followed by two model phases. Phase one is a cheap
// classification over every cluster representative; phase two runs the
// expensive per-cluster recognition only for representatives that phase
// one flagged as product-focused.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/media/barcode"
	"shelfscan/internal/media/phash"
	"shelfscan/internal/services"
	"shelfscan/internal/visioncache"
)

// MatchType values for an analyzed segment.
const (
	MatchBarcode = "barcode"
	MatchVisual  = "visual"
)

// Up to this many member frames go into one phase-two recognition call.
const maxRecognitionFrames = 4

// Result is one recognized product within a visual segment.
type Result struct {
	ClusterID   int
	Brand       string
	ProductName string
	SearchTerms []string
	FromCache   bool
}

// SegmentAnalysis is the outcome of analyzing one segment's frames.
type SegmentAnalysis struct {
	MatchType     string
	Barcode       string
	FramesScanned int
	Results       []Result
	Usage         llm.Usage
}

type barcodeScanner interface {
	ScanFirst(ctx context.Context, framePaths []string) (*barcode.Hit, int, error)
}

// Analyzer runs segment analysis. The vision cache is optional; nil
// disables caching.
type Analyzer struct {
	scanner          barcodeScanner
	model            llm.VisionCompleter
	modelName        string
	cache            *visioncache.Cache
	clusterThreshold int
	logger           *slog.Logger

	hashFile func(path string) (uint64, error)
	readFile func(path string) ([]byte, error)
}

// NewAnalyzer constructs a segment analyzer.
func NewAnalyzer(scanner barcodeScanner, model llm.VisionCompleter, modelName string, cache *visioncache.Cache, clusterThreshold int, logger *slog.Logger) (*Analyzer, error) {
	if clusterThreshold < 1 || clusterThreshold > 64 {
		return nil, fmt.Errorf("recognition: cluster threshold %d outside [1, 64]", clusterThreshold)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{
		scanner:          scanner,
		model:            model,
		modelName:        modelName,
		cache:            cache,
		clusterThreshold: clusterThreshold,
		logger:           logging.NewComponentLogger(logger, "recognition"),
		hashFile:         phash.HashFile,
		readFile:         os.ReadFile,
	}, nil
}

// AnalyzeSegment runs the barcode pass and, when no frame decodes, the
// clustering and two-phase recognition over framePaths. Frames must be in
// capture order.
func (a *Analyzer) AnalyzeSegment(ctx context.Context, framePaths []string) (*SegmentAnalysis, error) {
	analysis := &SegmentAnalysis{MatchType: MatchVisual}
	if len(framePaths) == 0 {
		return analysis, nil
	}

	hit, scanned, err := a.scanner.ScanFirst(ctx, framePaths)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "recognition", "barcode scan", "", err)
	}
	analysis.FramesScanned = scanned
	if hit != nil {
		analysis.MatchType = MatchBarcode
		analysis.Barcode = hit.Value
		a.logger.Debug("barcode short-circuit",
			logging.String("value", hit.Value),
			logging.Int("frames_scanned", scanned))
		return analysis, nil
	}

	hashes := make([]uint64, len(framePaths))
	for i, path := range framePaths {
		hash, err := a.hashFile(path)
		if err != nil {
			return nil, services.Wrap(services.ErrExternalTool, "recognition", "hash frame", path, err)
		}
		hashes[i] = hash
	}
	clusters := phash.Assign(hashes, a.clusterThreshold)

	pending, err := a.applyCache(ctx, analysis, clusters, hashes)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return analysis, nil
	}

	flagged, usage, err := a.classifyClusters(ctx, framePaths, pending, hashes)
	analysis.Usage.Add(usage)
	if err != nil {
		return nil, err
	}

	for _, cluster := range pending {
		if !flagged[cluster.ID] {
			a.storeCache(ctx, hashes[cluster.Representative], false, nil)
			continue
		}
		result, usage, err := a.recognizeCluster(ctx, framePaths, cluster)
		analysis.Usage.Add(usage)
		if err != nil {
			return nil, err
		}
		if result != nil {
			analysis.Results = append(analysis.Results, *result)
		}
		a.storeCache(ctx, hashes[cluster.Representative], true, result)
	}
	return analysis, nil
}

// applyCache resolves clusters whose representative hash already has a
// cached outcome and returns the clusters that still need model calls.
func (a *Analyzer) applyCache(ctx context.Context, analysis *SegmentAnalysis, clusters []phash.Cluster, hashes []uint64) ([]phash.Cluster, error) {
	if a.cache == nil {
		return clusters, nil
	}
	var pending []phash.Cluster
	for _, cluster := range clusters {
		entry, err := a.cache.LookupNear(ctx, hashes[cluster.Representative], a.modelName, a.clusterThreshold)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "recognition", "cache lookup", "", err)
		}
		if entry == nil {
			pending = append(pending, cluster)
			continue
		}
		a.logger.Debug("vision cache hit",
			logging.Int("cluster", cluster.ID),
			logging.Bool("product_likely", entry.ProductLikely))
		if entry.ProductLikely && (entry.Brand != "" || entry.ProductName != "") {
			analysis.Results = append(analysis.Results, Result{
				ClusterID:   cluster.ID,
				Brand:       entry.Brand,
				ProductName: entry.ProductName,
				SearchTerms: entry.SearchTerms,
				FromCache:   true,
			})
		}
	}
	return pending, nil
}

func (a *Analyzer) storeCache(ctx context.Context, hash uint64, likely bool, result *Result) {
	if a.cache == nil {
		return
	}
	entry := visioncache.Entry{Hash: hash, Model: a.modelName, ProductLikely: likely}
	if result != nil {
		entry.Brand = result.Brand
		entry.ProductName = result.ProductName
		entry.SearchTerms = result.SearchTerms
	}
	if err := a.cache.Store(ctx, entry); err != nil {
		// Cache writes are best effort; analysis already succeeded.
		a.logger.Warn("vision cache store failed", logging.Error(err))
	}
}

// classifyClusters runs phase one: a single call carrying every pending
// cluster's representative frame. A malformed response flags nothing; the
// segment then simply produces no recognition results.
func (a *Analyzer) classifyClusters(ctx context.Context, framePaths []string, clusters []phash.Cluster, hashes []uint64) (map[int]bool, llm.Usage, error) {
	images := make([][]byte, 0, len(clusters))
	ids := make([]int, 0, len(clusters))
	for _, cluster := range clusters {
		data, err := a.readFile(framePaths[cluster.Representative])
		if err != nil {
			return nil, llm.Usage{}, services.Wrap(services.ErrExternalTool, "recognition", "read frame", "", err)
		}
		images = append(images, data)
		ids = append(ids, cluster.ID)
	}

	content, usage, err := a.model.CompleteVisionJSON(ctx, classifySystemPrompt, classifyUserPrompt(ids), images)
	if err != nil {
		return nil, usage, services.Wrap(services.ErrTransient, "recognition", "classify", "model call", err)
	}

	var payload struct {
		ProductClusters []int `json:"product_clusters"`
	}
	flagged := make(map[int]bool)
	if err := llm.DecodeJSON(content, &payload); err != nil {
		a.logger.Warn("unparsable classification response", logging.Error(err))
		return flagged, usage, nil
	}
	known := make(map[int]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	for _, id := range payload.ProductClusters {
		if known[id] {
			flagged[id] = true
		}
	}
	return flagged, usage, nil
}

// recognizeCluster runs phase two for one flagged cluster over up to four
// evenly spaced member frames. A response with neither brand nor product
// name, or one that cannot be parsed, yields no result.
func (a *Analyzer) recognizeCluster(ctx context.Context, framePaths []string, cluster phash.Cluster) (*Result, llm.Usage, error) {
	members := cluster.SpacedMembers(maxRecognitionFrames)
	images := make([][]byte, 0, len(members))
	for _, idx := range members {
		data, err := a.readFile(framePaths[idx])
		if err != nil {
			return nil, llm.Usage{}, services.Wrap(services.ErrExternalTool, "recognition", "read frame", "", err)
		}
		images = append(images, data)
	}

	content, usage, err := a.model.CompleteVisionJSON(ctx, recognizeSystemPrompt, recognizeUserPrompt, images)
	if err != nil {
		return nil, usage, services.Wrap(services.ErrTransient, "recognition", "recognize", "model call", err)
	}

	var payload struct {
		Brand       string   `json:"brand"`
		ProductName string   `json:"product_name"`
		SearchTerms []string `json:"search_terms"`
	}
	if err := llm.DecodeJSON(content, &payload); err != nil {
		a.logger.Warn("unparsable recognition response",
			logging.Int("cluster", cluster.ID),
			logging.Error(err))
		return nil, usage, nil
	}
	if payload.Brand == "" && payload.ProductName == "" {
		return nil, usage, nil
	}
	return &Result{
		ClusterID:   cluster.ID,
		Brand:       payload.Brand,
		ProductName: payload.ProductName,
		SearchTerms: payload.SearchTerms,
	}, usage, nil
}
