// internal/analysis/orchestrator.go
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
	"github.com/xkilldash9x/bitesense/internal/history"
	"github.com/xkilldash9x/bitesense/internal/llmutil"
	"github.com/xkilldash9x/bitesense/internal/streaming"
)

// User-facing messages attached to outcomes.
const (
	MsgAnalysisFailed = "Error analyzing image. Please try again."
	MsgSaveFailed     = "Failed to save bite record"
	MsgNotFound       = "Existing bite record not found"
)

// ErrRecordNotFound is returned by Open when the requested record does not exist.
var ErrRecordNotFound = errors.New("existing bite record not found")

// Detector classifies a bite image. The answer is the raw model text.
type Detector interface {
	Detect(ctx context.Context, img *schemas.Image, prompt string) (string, error)
}

// Elaborator produces the structured analysis text for a known insect type.
type Elaborator interface {
	Elaborate(ctx context.Context, prompt string) (string, error)
	ElaborateStream(ctx context.Context, prompt string, fn schemas.FragmentFunc) error
}

// RecordStore is the slice of the history store the orchestrator needs.
type RecordStore interface {
	Append(ctx context.Context, rec schemas.BiteRecord) (schemas.BiteRecord, error)
	Get(ctx context.Context, id string) (schemas.BiteRecord, error)
}

// ImageStore keeps the submitted image so a record can refer to it.
type ImageStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// Status is the terminal state of a run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusNoBites   Status = "no_bites"
	StatusFailed    Status = "failed"
	StatusLoaded    Status = "loaded"
	StatusCanceled  Status = "canceled"
)

// RunOptions carries the per-call settings of one run. Callbacks are invoked
// on the caller's goroutine and stop firing once ctx is done.
type RunOptions struct {
	// Mode selects the detector. Empty means the configured default.
	Mode config.Mode
	// OnInsectDetected receives the detected insect label, or schemas.NoBites.
	OnInsectDetected func(insectType string)
	// OnPartialUpdate enables streaming elaboration and receives each new snapshot.
	OnPartialUpdate func(schemas.PartialAnalysis)
	// ImageRef is recorded as is when set; otherwise the image is stored
	// through the ImageStore, if one is configured.
	ImageRef string
}

// Outcome is the terminal result of Analyze or Open.
type Outcome struct {
	Status     Status
	InsectType string
	Analysis   *schemas.BiteAnalysis
	Record     *schemas.BiteRecord
	Message    string
	// Err is the cause of a failed or canceled run.
	Err error
	// SaveErr is set when the analysis succeeded but could not be persisted.
	SaveErr error
}

// RecordID returns the persisted record id, or "" when nothing was stored.
func (o Outcome) RecordID() string {
	if o.Record == nil {
		return ""
	}
	return o.Record.ID
}

// Orchestrator runs detection followed by elaboration and persists the result.
type Orchestrator struct {
	cfg        config.AnalysisConfig
	detectors  map[config.Mode]Detector
	elaborator Elaborator
	records    RecordStore
	images     ImageStore
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithImageStore keeps submitted images so records carry a reference to them.
func WithImageStore(s ImageStore) Option {
	return func(o *Orchestrator) { o.images = s }
}

// WithDetector registers the detector used for mode.
func WithDetector(mode config.Mode, d Detector) Option {
	return func(o *Orchestrator) { o.detectors[mode] = d }
}

// New creates an Orchestrator. At least one detector must be registered.
func New(cfg config.AnalysisConfig, elaborator Elaborator, records RecordStore, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if elaborator == nil || records == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:        cfg,
		detectors:  make(map[config.Mode]Detector),
		elaborator: elaborator,
		records:    records,
		logger:     logger.Named("analysis"),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.detectors) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one detector")
	}
	return o, nil
}

// Analyze runs one fresh analysis of img. A successful run is persisted
// exactly once; every other outcome persists nothing.
func (o *Orchestrator) Analyze(ctx context.Context, img *schemas.Image, opts RunOptions) Outcome {
	mode := opts.Mode
	if mode == "" {
		mode = o.cfg.DefaultMode
	}
	detector, ok := o.detectors[mode]
	if !ok {
		return o.failed(fmt.Errorf("no detector configured for mode %q", mode))
	}
	logger := o.logger.With(zap.String("mode", string(mode)))
	start := time.Now()

	// 1. Detection.
	raw, err := detector.Detect(ctx, img, DetectionPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return o.canceled(ctx)
		}
		logger.Error("Insect detection failed", zap.Error(err))
		return o.failed(fmt.Errorf("detection: %w", err))
	}
	category, ok := schemas.ParseCategory(raw)
	if !ok {
		logger.Info("No supported bite detected", zap.String("response", raw))
		notify(ctx, opts.OnInsectDetected, schemas.NoBites)
		return Outcome{Status: StatusNoBites, InsectType: schemas.NoBites}
	}
	insectType := category.Title()
	logger.Info("Insect detected", zap.String("insect_type", insectType))

	// 2. Notification and pacing.
	notify(ctx, opts.OnInsectDetected, insectType)
	if err := o.sleep(ctx, o.cfg.DetectionPause(mode)); err != nil {
		return o.canceled(ctx)
	}

	// 3. Elaboration.
	var final *schemas.BiteAnalysis
	if opts.OnPartialUpdate != nil {
		final, err = o.elaborateStreaming(ctx, insectType, opts.OnPartialUpdate)
	} else {
		final, err = o.elaborate(ctx, insectType)
	}
	if ctx.Err() != nil {
		return o.canceled(ctx)
	}
	if err != nil {
		logger.Error("Elaboration failed", zap.String("insect_type", insectType), zap.Error(err))
		return o.failed(err)
	}

	// 4. Persistence.
	out := Outcome{Status: StatusCompleted, InsectType: insectType, Analysis: final}
	rec, err := o.persist(ctx, img, opts.ImageRef, *final)
	if err != nil {
		logger.Error("Failed to save bite record", zap.Error(err))
		out.SaveErr = fmt.Errorf("%s: %w", MsgSaveFailed, err)
		out.Message = MsgSaveFailed
	} else {
		out.Record = &rec
	}

	logger.Info("Analysis complete",
		zap.String("insect_type", insectType),
		zap.String("record_id", out.RecordID()),
		zap.Duration("duration", time.Since(start)))
	return out
}

// Open loads an existing record. It never writes to history.
func (o *Orchestrator) Open(ctx context.Context, recordID string) (Outcome, error) {
	rec, err := o.records.Get(ctx, recordID)
	if errors.Is(err, history.ErrNotFound) {
		o.logger.Warn("Bite record not found", zap.String("record_id", recordID))
		return Outcome{Status: StatusFailed, Message: MsgNotFound, Err: err}, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if err != nil {
		return Outcome{Status: StatusFailed, Message: MsgNotFound, Err: err}, fmt.Errorf("failed to load bite record %s: %w", recordID, err)
	}
	analysis := rec.Analysis.Clone()
	return Outcome{
		Status:     StatusLoaded,
		InsectType: analysis.InsectType,
		Analysis:   &analysis,
		Record:     &rec,
	}, nil
}

func (o *Orchestrator) elaborate(ctx context.Context, insectType string) (*schemas.BiteAnalysis, error) {
	text, err := o.elaborator.Elaborate(ctx, ElaborationPrompt(insectType))
	if err != nil {
		return nil, fmt.Errorf("elaboration: %w", err)
	}
	return parseFinal(text, insectType)
}

func (o *Orchestrator) elaborateStreaming(ctx context.Context, insectType string, onPartial func(schemas.PartialAnalysis)) (*schemas.BiteAnalysis, error) {
	extractor := streaming.NewExtractor()
	acc := streaming.NewAccumulator(insectType)
	done := false

	err := o.elaborator.ElaborateStream(ctx, ElaborationPrompt(insectType), func(text string, isDone bool) {
		if isDone {
			done = true
			return
		}
		delta, changed := extractor.Feed(text)
		if !changed {
			return
		}
		acc.Apply(delta)
		if ctx.Err() == nil {
			onPartial(acc.Snapshot())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("streaming elaboration: %w", err)
	}
	if !done {
		return nil, fmt.Errorf("streaming elaboration ended without a done signal")
	}
	return parseFinal(extractor.Buffer(), insectType)
}

// persist stores the image, if needed, and appends the record.
func (o *Orchestrator) persist(ctx context.Context, img *schemas.Image, imageRef string, final schemas.BiteAnalysis) (schemas.BiteRecord, error) {
	if imageRef == "" && o.images != nil && img != nil && len(img.Data) > 0 {
		ref, err := o.images.Put(ctx, uuid.NewString()+".jpg", img.Data, img.MIMEType)
		if err != nil {
			o.logger.Warn("Failed to store bite image; saving record without it", zap.Error(err))
		} else {
			imageRef = ref
		}
	}
	return o.records.Append(ctx, schemas.BiteRecord{ImageRef: imageRef, Analysis: final.Clone()})
}

func (o *Orchestrator) failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Message: MsgAnalysisFailed, Err: err}
}

func (o *Orchestrator) canceled(ctx context.Context) Outcome {
	o.logger.Info("Analysis abandoned by caller", zap.Error(ctx.Err()))
	return Outcome{Status: StatusCanceled, Err: ctx.Err()}
}

// parseFinal is the authoritative parse of the full elaboration text.
func parseFinal(text, insectType string) (*schemas.BiteAnalysis, error) {
	parsed, err := llmutil.ParseJSONResponse[schemas.BiteAnalysis](text)
	if err != nil {
		return nil, err
	}
	if parsed.InsectType == "" {
		parsed.InsectType = insectType
	}
	if parsed.Characteristics == nil {
		parsed.Characteristics = []string{}
	}
	if parsed.Treatments == nil {
		parsed.Treatments = []string{}
	}
	if parsed.Timeline == nil {
		parsed.Timeline = schemas.Timeline{}
	}
	return parsed, nil
}

func notify(ctx context.Context, fn func(string), insectType string) {
	if fn != nil && ctx.Err() == nil {
		fn(insectType)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
