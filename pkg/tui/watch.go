package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/vmplace/pkg/engine"
)

// Watch runs fn in the background while the program displays its progress.
// fn receives the callback to install with engine.WithProgress. Watch
// returns once both the program has exited and fn has returned, with fn's
// error.
func Watch(title string, total int, fn func(progress func(engine.Event)) error, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(NewModel(title, total), opts...)

	errc := make(chan error, 1)
	go func() {
		err := fn(func(ev engine.Event) { p.Send(EventMsg(ev)) })
		p.Send(DoneMsg{Err: err})
		errc <- err
	}()

	_, perr := p.Run()
	err := <-errc
	if perr != nil {
		return perr
	}
	return err
}
