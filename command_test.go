package ftpsession

import "testing"

func TestCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cmd    Command
		line   string
		str    string
		accept []int
		reject []int
	}{
		{
			name:   "with argument",
			cmd:    NewCommand("mkd", "/pub/new", 257),
			line:   "MKD /pub/new",
			str:    "MKD /pub/new",
			accept: []int{257},
			reject: []int{250, 550},
		},
		{
			name:   "without argument",
			cmd:    NewCommand("PWD", ""),
			line:   "PWD",
			str:    "PWD",
			accept: []int{200, 257, 331},
			reject: []int{421, 550, 600},
		},
		{
			name:   "password hidden",
			cmd:    NewCommand("PASS", "secret", 230),
			line:   "PASS secret",
			str:    "PASS ****",
			accept: []int{230},
			reject: []int{530},
		},
		{
			name:   "account hidden",
			cmd:    NewCommand("ACCT", "billing", 230, 202),
			line:   "ACCT billing",
			str:    "ACCT ****",
			accept: []int{230, 202},
			reject: []int{332},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.Line(); got != tt.line {
				t.Errorf("Line() = %q, want %q", got, tt.line)
			}
			if got := tt.cmd.String(); got != tt.str {
				t.Errorf("String() = %q, want %q", got, tt.str)
			}
			for _, code := range tt.accept {
				if !tt.cmd.Expects(code) {
					t.Errorf("Expects(%d) = false, want true", code)
				}
			}
			for _, code := range tt.reject {
				if tt.cmd.Expects(code) {
					t.Errorf("Expects(%d) = true, want false", code)
				}
			}
		})
	}
}
