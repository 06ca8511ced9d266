package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
)

// NewCASCmd creates the cas command.
func NewCASCmd() *cobra.Command {
	var fromNumber bool

	cmd := &cobra.Command{
		Use:   "cas VALUE...",
		Short: "Convert between CAS registry numbers and their stored form",
		Long: "Validates CAS registry numbers such as 7732-18-5, with or without dashes,\n" +
			"and prints the stored number without the check digit (773218).\n" +
			"With --number the arguments are stored numbers and are formatted instead.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make(casList, 0, len(args))
			for _, arg := range args {
				var (
					n   uint32
					err error
				)
				if fromNumber {
					var v uint64
					v, err = strconv.ParseUint(arg, 10, 32)
					if err != nil {
						err = molecule.ErrInvalidCAS.WithDetail(arg)
					}
					n = uint32(v)
				} else {
					n, err = molecule.ParseCASStrict(arg)
				}
				if err != nil {
					return errors.Wrapf(err, errors.ErrCodeInvalidCAS, "cas %q", arg)
				}
				out = append(out, casView{
					Input:  arg,
					Number: n,
					CAS:    molecule.FormatCAS(n, true),
					Digits: molecule.FormatCAS(n, false),
				})
			}
			return PrintResult(cmd, out)
		},
	}

	cmd.Flags().BoolVar(&fromNumber, "number", false, "arguments are stored numbers without check digit")
	return cmd
}

type casView struct {
	Input  string `json:"input"`
	Number uint32 `json:"number"`
	CAS    string `json:"cas"`
	Digits string `json:"digits"`
}

type casList []casView

func (l casList) TableHeaders() []string { return []string{"INPUT", "NUMBER", "CAS", "DIGITS"} }

func (l casList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		rows[i] = []string{v.Input, strconv.FormatUint(uint64(v.Number), 10), v.CAS, v.Digits}
	}
	return rows
}
