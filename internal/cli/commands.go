package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/MrSnakeDoc/tinyman/internal/config"
	"github.com/MrSnakeDoc/tinyman/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

func (s *Shell) cmdNew(ctx context.Context, line string, args []string) error {
	if len(args) < 1 {
		return &InputError{Line: line, Usage: "new <url> [expires_at]"}
	}
	expiresAt := ""
	if len(args) > 1 {
		expiresAt = args[1]
	}

	res, err := s.mgr.Create(ctx, args[0], expiresAt)
	if err != nil {
		return err
	}
	s.println(fmt.Sprintf("resource %d created: %s -> %s", res.ID, res.ShortLink, res.TargetURL))
	return nil
}

func (s *Shell) cmdSelect(line string, args []string) error {
	id, ok := firstID(args)
	if !ok {
		return &InputError{Line: line, Usage: "select <id>"}
	}
	if err := s.mgr.Select(id); err != nil {
		return err
	}
	s.println(fmt.Sprintf("resource %d selected", id))
	return nil
}

func (s *Shell) cmdDelete(line string, args []string) error {
	id, ok := firstID(args)
	if !ok {
		return &InputError{Line: line, Usage: "delete <id>"}
	}

	wasSelected := s.mgr.Selected() == id
	if err := s.mgr.Delete(id); err != nil {
		return err
	}
	s.println(fmt.Sprintf("resource %d deleted", id))
	if wasSelected {
		s.println(fmt.Sprintf("resource %d unselected", id))
	}
	return nil
}

func (s *Shell) cmdUpdate(ctx context.Context, line string, args []string) error {
	if len(args) < 1 {
		return &InputError{Line: line, Usage: "update <url>"}
	}
	res, err := s.mgr.UpdateCurrent(ctx, args[0])
	if err != nil {
		return err
	}
	s.println(fmt.Sprintf("resource %d updated: %s -> %s", res.ID, res.ShortLink, res.TargetURL))
	return nil
}

func (s *Shell) cmdCurrent(ctx context.Context) error {
	res, err := s.mgr.Current(ctx)
	if err != nil {
		return err
	}
	s.printDetail([]domain.Resource{res})
	return nil
}

func (s *Shell) cmdList(ctx context.Context) error {
	s.printShort(s.mgr.List(ctx))
	s.printInterval()
	return nil
}

func (s *Shell) cmdInfo(ctx context.Context) error {
	s.printDetail(s.mgr.List(ctx))
	s.printInterval()
	return nil
}

func (s *Shell) cmdTokens() error {
	tokens, pos := s.mgr.Credentials()

	table := tablewriter.NewWriter(s.out)
	table.Header("#", "Token", "Current")
	for i, tok := range tokens {
		current := ""
		if i+1 == pos {
			current = "*"
		}
		_ = table.Append([]string{fmt.Sprint(i + 1), config.Mask(tok), current})
	}
	_ = table.Render()
	return nil
}

func (s *Shell) cmdToken(line string, args []string) error {
	pos, ok := firstID(args)
	if !ok {
		return &InputError{Line: line, Usage: "token <n>"}
	}
	if err := s.mgr.SelectCredential(pos); err != nil {
		return err
	}
	s.println(fmt.Sprintf("credential %d selected", pos))
	return nil
}

func (s *Shell) cmdNext() error {
	pos := s.mgr.RotateCredential()
	tokens, _ := s.mgr.Credentials()
	s.println(fmt.Sprintf("credential changed to %d. %s", pos, config.Mask(tokens[pos-1])))
	return nil
}

func (s *Shell) cmdDelay(line string, args []string) error {
	if len(args) < 1 {
		return &InputError{Line: line, Usage: "delay <seconds> or delay <minutes>m"}
	}
	d, ok := parseDelay(args[0])
	if !ok {
		return &InputError{Line: line, Usage: "delay <seconds> or delay <minutes>m"}
	}
	if err := s.mgr.SetPingInterval(d); err != nil {
		return err
	}
	s.println(fmt.Sprintf("ping interval changed to %s", d))
	return nil
}

func (s *Shell) cmdPing() error {
	s.mgr.TriggerSweep()
	s.println("probing every resource")
	return nil
}

func (s *Shell) printShort(resources []domain.Resource) {
	if len(resources) == 0 {
		s.println("no resources")
		return
	}

	selected := s.mgr.Selected()
	table := tablewriter.NewWriter(s.out)
	table.Header("ID", "Short link", "Status", "Selected")
	for _, r := range resources {
		mark := ""
		if r.ID == selected {
			mark = "*"
		}
		_ = table.Append([]string{fmt.Sprint(r.ID), r.ShortLink, r.Status.String(), mark})
	}
	_ = table.Render()
}

func (s *Shell) printDetail(resources []domain.Resource) {
	if len(resources) == 0 {
		s.println("no resources")
		return
	}

	table := tablewriter.NewWriter(s.out)
	table.Header("ID", "Alias", "Short link", "Target", "Domain", "Status", "Checked", "Monitor")
	for _, r := range resources {
		checked := "-"
		if !r.CheckedAt.IsZero() {
			checked = r.CheckedAt.Local().Format(timeLayout)
		}
		mon := "stopped"
		if s.mgr.Running(r.ID) {
			mon = "running"
		}
		_ = table.Append([]string{
			fmt.Sprint(r.ID),
			r.Alias,
			r.ShortLink,
			r.TargetURL,
			r.Domain,
			r.Status.String(),
			checked,
			mon,
		})
	}
	_ = table.Render()
}

func (s *Shell) printInterval() {
	s.println(fmt.Sprintf("ping interval is %s", s.mgr.PingInterval().Round(time.Second)))
}

func firstID(args []string) (int, bool) {
	if len(args) < 1 {
		return 0, false
	}
	return parseID(args[0])
}
