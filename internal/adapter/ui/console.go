package ui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tg-archiver/internal/domain"

	"github.com/manifoldco/promptui"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ConsoleUI handles user interactions via the terminal.
type ConsoleUI struct {
	progress       *mpb.Progress
	nonInteractive bool
}

func NewConsoleUI(nonInteractive bool) *ConsoleUI {
	var p *mpb.Progress
	if !nonInteractive {
		p = mpb.New(mpb.WithWidth(64))
	}
	return &ConsoleUI{
		progress:       p,
		nonInteractive: nonInteractive,
	}
}

// Progress Reporter Implementation

func (u *ConsoleUI) Start(name string, total int64) domain.ProgressTask {
	if u.nonInteractive {
		return &nonInteractiveTask{
			name:      name,
			total:     total,
			startTime: time.Now(),
		}
	}

	bar := u.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1}),
			decor.Counters(decor.SizeB1024(0), "% .2f / % .2f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.OnComplete(
				decor.Percentage(decor.WCSyncSpace), "done",
			),
			decor.AverageSpeed(decor.SizeB1024(0), "% .2f", decor.WCSyncSpace),
		),
	)
	return &mpbTask{bar: bar}
}

func (u *ConsoleUI) Wait() {
	if u.nonInteractive {
		return
	}
	u.progress.Wait()
	// Re-initialize progress for next use if needed
	u.progress = mpb.New(mpb.WithWidth(64))
}

type mpbTask struct {
	bar *mpb.Bar
}

func (t *mpbTask) Increment(n int) {
	t.bar.IncrBy(n)
}

func (t *mpbTask) SetCurrent(current int64) {
	t.bar.SetCurrent(current)
}

func (t *mpbTask) Complete() {
	t.bar.SetTotal(-1, true)
}

func (t *mpbTask) Abort() {
	t.bar.Abort(true)
}

type nonInteractiveTask struct {
	name      string
	total     int64
	current   int64
	startTime time.Time
}

func (t *nonInteractiveTask) Increment(n int) {
	t.current += int64(n)
}

func (t *nonInteractiveTask) SetCurrent(current int64) {
	t.current = current
}

func (t *nonInteractiveTask) Complete() {
	elapsed := time.Since(t.startTime).Seconds()
	speed := float64(t.current) / elapsed
	fmt.Printf("Finished: %s | Size: %s | Speed: %s/s\n",
		t.name,
		formatSize(t.current),
		formatSize(int64(speed)),
	)
}

func (t *nonInteractiveTask) Abort() {
	fmt.Printf("Failed: %s (transfer aborted due to error)\n", t.name)
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// GetPhoneNumber prompts the user for their phone number.
func (u *ConsoleUI) GetPhoneNumber() (string, error) {
	prompt := promptui.Prompt{
		Label: "Enter Phone Number (international format, e.g. +39...)",
		Validate: func(input string) error {
			if len(input) < 5 {
				return errors.New("phone number too short")
			}
			return nil
		},
	}
	return prompt.Run()
}

// GetCode prompts the user for the authentication code.
func (u *ConsoleUI) GetCode() (string, error) {
	prompt := promptui.Prompt{
		Label: "Enter Code",
		Validate: func(input string) error {
			if len(input) == 0 {
				return errors.New("code cannot be empty")
			}
			return nil
		},
	}
	return prompt.Run()
}

// GetPassword prompts the user for their 2FA password.
func (u *ConsoleUI) GetPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Enter 2FA Password",
		Mask:  '*',
	}
	return prompt.Run()
}

// SelectChannel prompts the user to pick a destination channel from their
// dialog list, used to resolve target_channel interactively when
// storage_mode is upload/hybrid and none was given on the command line.
func (u *ConsoleUI) SelectChannel(chats []domain.Chat) (domain.Chat, error) {
	if len(chats) == 0 {
		return domain.Chat{}, errors.New("no channels available")
	}

	label := func(c domain.Chat) string {
		if c.Username != "" {
			return fmt.Sprintf("%s (@%s)", c.Title, c.Username)
		}
		return c.Title
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}?",
		Active:   "\U0001F449 {{ . | cyan }}",
		Inactive: "  {{ . | white }}",
		Selected: "\U0001F44D {{ . | green }}",
	}

	items := make([]string, len(chats))
	for i, c := range chats {
		items[i] = label(c)
	}

	prompt := promptui.Select{
		Label:     "Select Target Channel",
		Items:     items,
		Templates: templates,
		Size:      10,
		Searcher: func(input string, index int) bool {
			name := strings.ReplaceAll(strings.ToLower(items[index]), " ", "")
			input = strings.ReplaceAll(strings.ToLower(input), " ", "")
			return strings.Contains(name, input)
		},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return domain.Chat{}, err
	}

	return chats[i], nil
}

// Prompt asks a free-form question.
func (u *ConsoleUI) Prompt(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
	}
	return prompt.Run()
}

// Confirm asks a yes/no question, defaulting to no on any non-"y" answer.
func (u *ConsoleUI) Confirm(label string) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

// RunReport is the operator-facing summary of one archiving run, assembled
// by the coordinator once every fetcher (and, if active, the uploader) has
// finished.
type RunReport struct {
	Channel      string
	Range        [2]int
	Sessions     []domain.SessionDescriptor
	FetchResults []domain.FetchResult
	Balance      domain.BalanceReport
	UploadCounts domain.UploadCounters
	Uploading    bool
	TotalInvalid int
	DurationMS   int64
}

// PrintReport renders the completion summary spec.md §7 requires: totals,
// a per-session breakdown, and (when uploading) the upload counters.
func (u *ConsoleUI) PrintReport(r RunReport) {
	fmt.Println()
	fmt.Println("==================== Archive Summary ====================")
	fmt.Printf("Channel:     %s\n", r.Channel)
	fmt.Printf("Range:       [%d, %d]\n", r.Range[0], r.Range[1])
	fmt.Printf("Duration:    %s\n", time.Duration(r.DurationMS)*time.Millisecond)

	var downloaded, failed int
	for _, fr := range r.FetchResults {
		downloaded += fr.Downloaded
		failed += fr.Failed
	}
	fmt.Printf("Downloaded:  %d\n", downloaded)
	fmt.Printf("Failed:      %d\n", failed)
	if r.TotalInvalid > 0 {
		fmt.Printf("Invalid IDs: %d\n", r.TotalInvalid)
	}

	fmt.Println()
	fmt.Println("Per-session breakdown:")
	sorted := append([]domain.FetchResult(nil), r.FetchResults...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Session < sorted[j].Session })
	for _, fr := range sorted {
		idRange := "-"
		if fr.MinID != 0 || fr.MaxID != 0 {
			idRange = fmt.Sprintf("[%d, %d]", fr.MinID, fr.MaxID)
		}
		fmt.Printf("  %-20s downloaded=%-6d failed=%-6d ids=%-15s duration=%s\n",
			fr.Session, fr.Downloaded, fr.Failed, idRange, time.Duration(fr.DurationMS)*time.Millisecond)
	}

	if len(r.Balance.PerSessionFileCount) > 0 {
		fmt.Println()
		fmt.Printf("Load balance: %s\n", r.Balance.String())
	}

	if r.Uploading {
		fmt.Println()
		fmt.Println("Upload summary:")
		fmt.Printf("  albums uploaded:  %d\n", r.UploadCounts.AlbumsUploaded)
		fmt.Printf("  singles uploaded: %d\n", r.UploadCounts.SinglesUploaded)
		fmt.Printf("  failed:           %d\n", r.UploadCounts.Failed)
	}

	fmt.Println("===========================================================")
}

// PrintSessionStatus renders a session snapshot; main prints the one the
// run result carries, after the completion report.
func (u *ConsoleUI) PrintSessionStatus(sessions []domain.SessionDescriptor) {
	sorted := append([]domain.SessionDescriptor(nil), sessions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	fmt.Println("Sessions:")
	for _, s := range sorted {
		line := fmt.Sprintf("  %-20s %s", s.Name, s.State.String())
		if s.State == domain.SessionFailed && s.FailureReason != "" {
			line += fmt.Sprintf(" (%s)", s.FailureReason)
		}
		if s.State == domain.SessionRateLimited {
			line += fmt.Sprintf(" (until %s)", time.Unix(s.RateLimitedTill, 0).Format(time.Kitchen))
		}
		fmt.Println(line)
	}
}
