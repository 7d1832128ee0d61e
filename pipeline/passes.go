package pipeline

import (
	"github.com/chazu/veil/ir"
	"github.com/chazu/veil/virtualize"
)

type verifyPass struct{}

func newVerifyPass(Config) (Pass, error) { return verifyPass{}, nil }

func (verifyPass) Name() string { return "verify" }

func (verifyPass) Run(m *ir.Module, _ *Result) error { return ir.Verify(m) }

type virtualizePass struct {
	pass *virtualize.Pass
}

func newVirtualizePass(cfg Config) (Pass, error) {
	return &virtualizePass{pass: &virtualize.Pass{
		Flags:     cfg.Flags,
		Seed:      cfg.Seed,
		Generator: cfg.Generator,
	}}, nil
}

func (*virtualizePass) Name() string { return "virtualize" }

func (p *virtualizePass) Run(m *ir.Module, res *Result) error {
	r, err := p.pass.Run(m)
	if r != nil {
		res.addVirtualize(r)
	}
	return err
}
