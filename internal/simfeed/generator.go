// Package simfeed generates a synthetic result-monitor feed for exercising
// a pipeline.Coordinator without a live timing source. It generalizes the
// teacher's ticking, pattern-driven mock session generator (per-session
// token/tool-call progression) into a per-car lap/pit/flag progression that
// emits the same $-prefixed lines a real relay would (§4.2, §6).
package simfeed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/paddockwire/timingcore/internal/pipeline"
)

// pattern names a car's pace behavior, mirroring the teacher's per-session
// "pattern" field (steady/burst/stall/...).
type pattern string

const (
	patternSteady     pattern = "steady"
	patternPushing    pattern = "pushing"
	patternStruggling pattern = "struggling"
	patternPitting    pattern = "pitting"
)

type car struct {
	number        string
	regNum        string
	classNum      string
	first, last   string
	transponderId uint32

	basePaceMs int
	pat        pattern

	laps       int
	raceTimeMs int
	lapStartMs int
	bestLap    int
	bestMs     int

	pitLap      int // lap number at which this car pits, 0 = never
	inPit       bool
	pitTicksAgo int
}

// Generator is an ingest.Source producing a synthetic rmonitor/multiloop
// feed for one event/session. The zero value is not usable; use New.
type Generator struct {
	sessionRef  int
	sessionName string
	classes     map[string]string
	cars        []*car

	tick       int
	flag       string
	flagLapCap int
	rng        *rand.Rand

	announced bool
}

// New builds a Generator seeded with a small synthetic field. seed makes
// the car mix and pace deterministic across runs for the same value.
func New(sessionRef int, sessionName string, seed int64) *Generator {
	rng := rand.New(rand.NewSource(seed))
	g := &Generator{
		sessionRef:  sessionRef,
		sessionName: sessionName,
		classes:     map[string]string{"1": "GT3", "2": "GT4"},
		flag:        "green",
		flagLapCap:  18,
		rng:         rng,
	}

	roster := []struct {
		number, reg, class, first, last string
		pace                            int
		pat                             pattern
		pitLap                          int
	}{
		{"1", "REG1001", "1", "Alice", "Novak", 95_400, patternSteady, 9},
		{"7", "REG1007", "1", "Ben", "Okafor", 96_100, patternPushing, 11},
		{"12", "REG1012", "1", "Carla", "Dimitriou", 97_800, patternStruggling, 0},
		{"42", "REG1042", "2", "Dev", "Singh", 101_250, patternSteady, 8},
		{"88", "REG1088", "2", "Eve", "Tanaka", 102_900, patternPitting, 6},
	}
	for _, r := range roster {
		g.cars = append(g.cars, &car{
			number: r.number, regNum: r.reg, classNum: r.class,
			first: r.first, last: r.last,
			transponderId: uint32(5_000_000 + rng.Intn(900_000)),
			basePaceMs:    r.pace, pat: r.pat, pitLap: r.pitLap,
		})
	}
	return g
}

func (g *Generator) Name() string { return "simfeed" }

// Poll advances the simulation by one tick and returns the lines/passings
// produced. Each call represents roughly one second of race time.
func (g *Generator) Poll(ctx context.Context) ([]pipeline.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	g.tick++
	now := time.Now()
	var rmonitorLines []string
	var passings []pipeline.Passing

	if !g.announced {
		rmonitorLines = append(rmonitorLines, g.announceLines()...)
		g.announced = true
	}

	g.advanceFlag()
	rmonitorLines = append(rmonitorLines, g.heartbeatLine())

	for _, c := range g.cars {
		lines, pass := g.advanceCar(c, now)
		rmonitorLines = append(rmonitorLines, lines...)
		passings = append(passings, pass...)
	}

	var msgs []pipeline.Message
	if len(rmonitorLines) > 0 {
		msgs = append(msgs, pipeline.Message{
			Type: pipeline.MsgRMonitor, Data: strings.Join(rmonitorLines, "\n"), Timestamp: now,
		})
	}
	if len(passings) > 0 {
		msgs = append(msgs, pipeline.Message{Type: pipeline.MsgX2Pass, Payload: passings, Timestamp: now})
	}
	return msgs, nil
}

func (g *Generator) announceLines() []string {
	lines := []string{fmt.Sprintf(`$B,%d,"%s"`, g.sessionRef, g.sessionName)}
	for num, label := range g.classes {
		lines = append(lines, fmt.Sprintf(`$C,%s,"%s"`, num, label))
	}
	for _, c := range g.cars {
		lines = append(lines, fmt.Sprintf(`$A,"%s","%s",%d,"%s","%s","USA",%s`,
			c.regNum, c.number, c.transponderId, c.first, c.last, c.classNum))
	}
	return lines
}

func (g *Generator) heartbeatLine() string {
	return fmt.Sprintf(`$F,%d,"00:%02d:00","13:00:00","%s","%s"`,
		max(0, g.flagLapCap-g.leaderLaps()), 10, formatDuration(g.leaderRaceTimeMs()), g.flag)
}

// advanceFlag moves green -> yellow -> green occasionally, and checkered
// once the leader reaches flagLapCap.
func (g *Generator) advanceFlag() {
	if g.flag == "checkered" {
		return
	}
	if g.leaderLaps() >= g.flagLapCap {
		g.flag = "checkered"
		return
	}
	if g.flag == "green" && g.rng.Intn(400) == 0 {
		g.flag = "yellow"
	} else if g.flag == "yellow" && g.rng.Intn(30) == 0 {
		g.flag = "green"
	}
}

func (g *Generator) leaderLaps() int {
	best := 0
	for _, c := range g.cars {
		if c.laps > best {
			best = c.laps
		}
	}
	return best
}

func (g *Generator) leaderRaceTimeMs() int {
	best := 0
	for _, c := range g.cars {
		if c.raceTimeMs > best {
			best = c.raceTimeMs
		}
	}
	return best
}

// advanceCar accumulates elapsed time for c and, on a lap rollover, emits
// $G, $H and $J lines, plus a pit-in passing on the rollover that completes
// c's scheduled pit lap and a pit-out passing two rollovers later.
func (g *Generator) advanceCar(c *car, now time.Time) ([]string, []pipeline.Passing) {
	if g.flag == "checkered" {
		return nil, nil
	}

	stepMs := g.paceStep(c)
	c.lapStartMs += stepMs
	c.raceTimeMs += stepMs

	var lines []string
	var passings []pipeline.Passing

	if c.lapStartMs < g.lapDuration(c) {
		return lines, passings
	}

	lapMs := c.lapStartMs
	c.lapStartMs = 0
	c.laps++
	if c.bestMs == 0 || lapMs < c.bestMs {
		c.bestMs = lapMs
		c.bestLap = c.laps
	}

	lines = append(lines, fmt.Sprintf(`$G,%d,"%s",%d,"%s"`,
		g.rankOf(c), c.regNum, c.laps, formatDuration(c.raceTimeMs)))
	lines = append(lines, fmt.Sprintf(`$H,%d,"%s",%d,"%s"`,
		g.rankOf(c), c.regNum, c.bestLap, formatDuration(c.bestMs)))
	lines = append(lines, fmt.Sprintf(`$J,"%s","%s","%s"`,
		c.regNum, formatDuration(lapMs), formatDuration(c.raceTimeMs)))

	if c.pitLap != 0 && c.laps == c.pitLap && !c.inPit {
		c.inPit = true
		c.pitTicksAgo = 0
		passings = append(passings, pipeline.Passing{TransponderId: c.transponderId, Loop: pipeline.LoopPitIn, Timestamp: now})
	} else if c.inPit {
		c.pitTicksAgo++
		if c.pitTicksAgo >= 2 {
			c.inPit = false
			passings = append(passings, pipeline.Passing{TransponderId: c.transponderId, Loop: pipeline.LoopPitOut, Timestamp: now})
		}
	}

	return lines, passings
}

// paceStep returns how much race time (ms) elapses this tick, scaled so a
// lap completes roughly every lapDuration/tickMs ticks.
func (g *Generator) paceStep(c *car) int {
	const tickMs = 1000
	mult := 1.0
	switch c.pat {
	case patternPushing:
		mult = 0.97
	case patternStruggling:
		mult = 1.05 + 0.03*math.Sin(float64(g.tick)/7)
	case patternPitting:
		if c.inPit {
			mult = 6.0
		}
	}
	jitter := 1.0 + (g.rng.Float64()-0.5)*0.01
	return int(float64(tickMs) * mult * jitter)
}

func (g *Generator) lapDuration(c *car) int {
	return c.basePaceMs
}

// rankOf returns c's overall position: cars with more laps rank ahead, and
// elapsed race time breaks ties on equal lap count, matching §4.6's sort key so the
// synthetic feed never contradicts the position enricher's own ordering.
func (g *Generator) rankOf(c *car) int {
	rank := 1
	for _, other := range g.cars {
		if other == c {
			continue
		}
		if other.laps > c.laps || (other.laps == c.laps && other.raceTimeMs < c.raceTimeMs) {
			rank++
		}
	}
	return rank
}

// formatDuration renders milliseconds as "h:mm:ss.fff", or "m:ss.fff"
// under an hour, matching the
// result-monitor grammar's "[h:]mm:ss[.fff]" lap/race-time fields.
func formatDuration(ms int) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	frac := ms % 1000
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, frac)
	}
	return fmt.Sprintf("%d:%02d.%03d", m, s, frac)
}
