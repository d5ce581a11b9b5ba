/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	out *bytes.Buffer
	log *Logger
}

func (s *LoggerTestSuite) SetupTest() {
	s.out = &bytes.Buffer{}
	s.log = New("chardev", s.out)
	s.log.SetColor(false)
	s.log.SetLevel(LevelTrace)
}

func (s *LoggerTestSuite) lines() []string {
	return strings.Split(strings.TrimRight(s.out.String(), "\n"), "\n")
}

func (s *LoggerTestSuite) TestLineLayout() {
	s.log.Infof("wrote %d bytes", 11)
	line := s.lines()[0]
	s.Require().True(strings.HasPrefix(line, "Info "), line)
	s.Require().Contains(line, "logger_test.go:")
	s.Require().True(strings.HasSuffix(line, " chardev wrote 11 bytes"), line)
}

func (s *LoggerTestSuite) TestLevelFiltering() {
	s.log.SetLevel(LevelWarn)
	s.log.Tracef("t")
	s.log.Debugf("d")
	s.log.Infof("i")
	s.log.Warnf("w")
	s.log.Errorf("e")
	lines := s.lines()
	s.Require().Len(lines, 2)
	s.Require().True(strings.HasPrefix(lines[0], "Warn "))
	s.Require().True(strings.HasPrefix(lines[1], "Error "))

	s.out.Reset()
	s.log.SetLevel(LevelNone)
	s.log.Errorf("silenced")
	s.Require().Empty(s.out.String())
}

func (s *LoggerTestSuite) TestSetLevelIgnoresOutOfRange() {
	s.log.SetLevel(LevelInfo)
	s.log.SetLevel(Level(42))
	s.Require().Equal(LevelInfo, s.log.Level())
}

func (s *LoggerTestSuite) TestColorWrapsLine() {
	s.log.SetColor(true)
	s.log.Errorf("boom")
	line := s.lines()[0]
	s.Require().True(strings.HasPrefix(line, red))
	s.Require().True(strings.HasSuffix(line, reset))
}

func (s *LoggerTestSuite) TestNamedSharesOutput() {
	child := s.log.Named("transport")
	child.Infof("device opened")
	s.Require().Contains(s.out.String(), " transport device opened")
	s.Require().Equal(LevelTrace, child.Level())
}

func (s *LoggerTestSuite) TestParseLevel() {
	cases := map[string]Level{
		"trace": LevelTrace, "DEBUG": LevelDebug, "Info": LevelInfo,
		"warn": LevelWarn, "warning": LevelWarn, "error": LevelError,
		"none": LevelNone, "0": LevelTrace, " 3 ": LevelWarn, "5": LevelNone,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		s.Require().NoError(err, in)
		s.Require().Equal(want, got, in)
	}
	for _, bad := range []string{"", "loud", "-1", "6"} {
		_, err := ParseLevel(bad)
		s.Require().Error(err, bad)
	}
}

func (s *LoggerTestSuite) TestDefaultLevelFromEnv() {
	s.T().Setenv(EnvLevel, "debug")
	s.Require().Equal(LevelDebug, DefaultLevel())
	s.T().Setenv(EnvLevel, "bogus")
	s.Require().Equal(LevelWarn, DefaultLevel())
}

func (s *LoggerTestSuite) TestLevelString() {
	s.Require().Equal("Warn", LevelWarn.String())
	s.Require().Equal("Level(9)", Level(9).String())
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}
