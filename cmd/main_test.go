/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"testing"
)

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"serve", "synthesize", "voices"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("Expected subcommand %q, got %v (err %v)", name, cmd, err)
		}
	}

	if root.RunE == nil {
		t.Error("Root command should serve by default")
	}
}

func TestSynthesizeCommand_RequiresOut(t *testing.T) {
	cmd := newSynthesizeCmd()
	cmd.SetArgs([]string{"--text", "hello"})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	if err := cmd.Execute(); err == nil {
		t.Error("Expected missing --out to be rejected")
	}
}
