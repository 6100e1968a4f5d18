package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"newsletter-briefing/internal/config"
	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/model"
	"newsletter-briefing/internal/repository"
)

type pipelineService struct {
	cfg        *config.Config
	gmail      GmailClient
	state      repository.StateRepository
	triage     TriageService
	extraction ExtractionService
	synthesis  SynthesisService
	now        func() time.Time
	logger     *logger.Logger
}

func NewPipelineService(
	cfg *config.Config,
	gmailClient GmailClient,
	state repository.StateRepository,
	triage TriageService,
	extraction ExtractionService,
	synthesis SynthesisService,
	logger *logger.Logger,
) PipelineService {
	return &pipelineService{
		cfg:        cfg,
		gmail:      gmailClient,
		state:      state,
		triage:     triage,
		extraction: extraction,
		synthesis:  synthesis,
		now:        time.Now,
		logger:     logger,
	}
}

// deliveryPlan holds every mailbox and state mutation of a run. Nothing in
// it is applied until all stages have produced their output.
type deliveryPlan struct {
	subject   string
	briefing  *model.Briefing
	markRead  []string
	label     []string
	processed []string
	run       *model.RunRecord
}

func (s *pipelineService) Run(ctx context.Context, opts RunOptions) error {
	start := s.now().UTC()

	since, err := s.fetchWindow(ctx, opts, start)
	if err != nil {
		return err
	}

	result, err := s.gmail.FetchMessages(ctx, s.cfg.GmailQuery, since)
	if err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Messages still rate-limited after the retry stay inside the next window.
	nextSince := start
	if len(result.FailedIDs) > 0 {
		s.logger.Warnf("%d messages still rate-limited; next run starts again from %s",
			len(result.FailedIDs), since.Format(time.RFC3339))
		nextSince = since
	}

	if opts.DumpEmailsPath != "" {
		if err := writeEmailDump(opts.DumpEmailsPath, s.cfg.GmailQuery, result.Messages); err != nil {
			return err
		}
		s.logger.Info("Email list written to", opts.DumpEmailsPath)
	}

	if len(result.Messages) == 0 {
		s.logger.Info("No new emails found. Nothing to do.")
		return s.finish(ctx, opts, &deliveryPlan{run: model.NewRunRecord(start, nextSince, 0)})
	}

	unprocessed, err := s.filterProcessed(ctx, result.Messages)
	if err != nil {
		return err
	}
	if len(unprocessed) == 0 {
		s.logger.Info("All fetched emails already processed. Nothing to do.")
		return s.finish(ctx, opts, &deliveryPlan{run: model.NewRunRecord(start, nextSince, 0)})
	}
	s.logger.Infof("%d new emails to process (%d already processed)",
		len(unprocessed), len(result.Messages)-len(unprocessed))

	outcome := s.triage.Select(s.triage.Classify(ctx, unprocessed))
	s.logger.Infof("Triage kept %d, capped %d, discarded %d",
		len(outcome.Kept), len(outcome.Capped), len(outcome.Discarded))

	if opts.DumpTriagePath != "" {
		if err := writeTriageDump(opts.DumpTriagePath, outcome); err != nil {
			return err
		}
		s.logger.Info("Triage results written to", opts.DumpTriagePath)
	}

	plan := &deliveryPlan{
		markRead:  messageIDs(outcome.Discarded),
		label:     append(messageIDs(outcome.Kept), messageIDs(outcome.Capped)...),
		processed: make([]string, len(unprocessed)),
		run:       model.NewRunRecord(start, nextSince, len(unprocessed)),
	}
	for i, msg := range unprocessed {
		plan.processed[i] = msg.ID
	}

	// The sender cap only shapes the triage view; every message that passed
	// the threshold goes into the briefing.
	eligible := outcome.Eligible()
	if len(eligible) == 0 {
		s.logger.Info("All emails were discarded by triage. No briefing needed.")
		return s.finish(ctx, opts, plan)
	}

	items := s.extraction.Extract(ctx, eligible)
	plan.briefing = s.synthesis.Synthesize(ctx, items)
	plan.subject = s.synthesis.BuildSubject(start)

	return s.finish(ctx, opts, plan)
}

func (s *pipelineService) fetchWindow(ctx context.Context, opts RunOptions, start time.Time) (time.Time, error) {
	if opts.LookbackDays != nil {
		since := start.AddDate(0, 0, -*opts.LookbackDays)
		s.logger.Infof("Lookback override, looking back %d days to %s", *opts.LookbackDays, since.Format(time.RFC3339))
		return since, nil
	}

	last, err := s.state.LastRunTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last run time: %w", err)
	}
	if last != nil {
		s.logger.Info("Fetching emails since last run:", last.Format(time.RFC3339))
		return *last, nil
	}

	since := start.AddDate(0, 0, -s.cfg.InitialLookbackDays)
	s.logger.Infof("First run, looking back %d days to %s", s.cfg.InitialLookbackDays, since.Format(time.RFC3339))
	return since, nil
}

func (s *pipelineService) filterProcessed(ctx context.Context, messages []*model.RawMessage) ([]*model.RawMessage, error) {
	unprocessed := make([]*model.RawMessage, 0, len(messages))
	for _, msg := range messages {
		done, err := s.state.IsProcessed(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check processed state for %s: %w", msg.ID, err)
		}
		if !done {
			unprocessed = append(unprocessed, msg)
		}
	}
	return unprocessed, nil
}

func (s *pipelineService) finish(ctx context.Context, opts RunOptions, plan *deliveryPlan) error {
	if opts.DryRun || opts.OutputPath != "" {
		return s.preview(opts, plan)
	}
	return s.deliver(ctx, plan)
}

// preview writes the briefing locally. It never touches the mailbox or state.
func (s *pipelineService) preview(opts RunOptions, plan *deliveryPlan) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	if plan.briefing != nil {
		if opts.OutputPath != "" {
			if err := writePreviewFiles(opts.OutputPath, plan.briefing); err != nil {
				return err
			}
			s.logger.Info("Markdown briefing written to", opts.OutputPath)
			s.logger.Info("HTML preview written to", htmlPreviewPath(opts.OutputPath))
		} else {
			printBriefing(out, plan.subject, plan.briefing.Markdown)
		}
	}

	fmt.Fprintln(out, "(Dry run: email not sent, state not updated)")
	return nil
}

// deliver applies the plan: send, mark discards read, label kept messages,
// then persist state.
func (s *pipelineService) deliver(ctx context.Context, plan *deliveryPlan) error {
	if plan.briefing != nil {
		if err := s.gmail.SendBriefing(ctx, plan.briefing.HTML, plan.subject); err != nil {
			return err
		}
	}

	if len(plan.markRead) > 0 {
		if err := s.gmail.MarkAsRead(ctx, plan.markRead); err != nil {
			return err
		}
	}

	if len(plan.label) > 0 {
		labelID, err := s.gmail.EnsureLabel(ctx, s.cfg.BriefingLabel)
		if err != nil {
			return err
		}
		if err := s.gmail.AddLabel(ctx, plan.label, labelID); err != nil {
			return err
		}
	}

	if len(plan.processed) > 0 {
		if err := s.state.MarkProcessed(ctx, plan.processed...); err != nil {
			return fmt.Errorf("failed to mark messages processed: %w", err)
		}
	}

	if err := s.state.RecordRun(ctx, plan.run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	if plan.briefing != nil {
		s.logger.Info("Pipeline complete. Briefing sent.")
	}
	return nil
}

func writePreviewFiles(path string, briefing *model.Briefing) error {
	if err := os.WriteFile(path, []byte(briefing.Markdown), 0o644); err != nil {
		return fmt.Errorf("failed to write briefing to %s: %w", path, err)
	}
	htmlPath := htmlPreviewPath(path)
	if err := os.WriteFile(htmlPath, []byte(briefing.HTML), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML preview to %s: %w", htmlPath, err)
	}
	return nil
}

// htmlPreviewPath swaps the output file's extension for .html.
func htmlPreviewPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".html"
}

func printBriefing(w io.Writer, subject, markdown string) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "SUBJECT:", subject)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, markdown)
	fmt.Fprintln(w, rule)
}

func messageIDs(verdicts []*model.TriageVerdict) []string {
	ids := make([]string, len(verdicts))
	for i, v := range verdicts {
		ids[i] = v.Message.ID
	}
	return ids
}
