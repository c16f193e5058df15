package camelot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Key is a parsed Camelot wheel position.
type Key struct {
	Number int    // 1-12
	Letter string // "A" (minor) or "B" (major)
}

var camelotRegex = regexp.MustCompile(`^(\d{1,2})([AB])$`)

// keyToCamelot is the bijection between the 24 musical keys and the wheel.
var keyToCamelot = map[string]string{
	"C": "8B", "G": "9B", "D": "10B", "A": "11B", "E": "12B", "B": "1B",
	"F#": "2B", "C#": "3B", "G#": "4B", "D#": "5B", "A#": "6B", "F": "7B",
	"Am": "8A", "Em": "9A", "Bm": "10A", "F#m": "11A", "C#m": "12A", "G#m": "1A",
	"D#m": "2A", "A#m": "3A", "Fm": "4A", "Cm": "5A", "Gm": "6A", "Dm": "7A",
}

var camelotToKey = func() map[string]string {
	inv := make(map[string]string, len(keyToCamelot))
	for k, c := range keyToCamelot {
		inv[c] = k
	}
	return inv
}()

// Flat spellings map onto their sharp equivalents before lookup.
var flatToSharp = strings.NewReplacer(
	"Db", "C#", "Eb", "D#", "Gb", "F#", "Ab", "G#", "Bb", "A#",
)

// Parse splits a Camelot notation string like "8A" into its wheel position.
func Parse(s string) (Key, error) {
	m := camelotRegex.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return Key{}, fmt.Errorf("invalid camelot notation: %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > 12 {
		return Key{}, fmt.Errorf("camelot number out of range: %q", s)
	}
	return Key{Number: n, Letter: m[2]}, nil
}

// String renders the wheel position back to notation.
func (k Key) String() string {
	return fmt.Sprintf("%d%s", k.Number, k.Letter)
}

// Mode returns "minor" for A keys and "major" for B keys.
func (k Key) Mode() string {
	if k.Letter == "A" {
		return "minor"
	}
	return "major"
}

// NormalizeKey canonicalises a musical key string: trims, fixes case and
// rewrites flats as sharps ("ebm" → "D#m").
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	minor := strings.HasSuffix(strings.ToLower(key), "m") && !strings.HasSuffix(strings.ToLower(key), "dim")
	base := key
	if minor {
		base = key[:len(key)-1]
	}
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	base = strings.ToUpper(base[:1]) + strings.ToLower(base[1:])
	base = strings.ReplaceAll(base, "♯", "#")
	base = strings.ReplaceAll(base, "♭", "b")
	base = flatToSharp.Replace(base)
	if minor {
		return base + "m"
	}
	return base
}

// FromMusicalKey converts a musical key ("Am", "F#", "Ebm") to Camelot
// notation.
func FromMusicalKey(key string) (string, error) {
	c, ok := keyToCamelot[NormalizeKey(key)]
	if !ok {
		return "", fmt.Errorf("unknown musical key: %q", key)
	}
	return c, nil
}

// ToMusicalKey converts Camelot notation back to its musical key.
func ToMusicalKey(camelot string) (string, error) {
	k, err := Parse(camelot)
	if err != nil {
		return "", err
	}
	key, ok := camelotToKey[k.String()]
	if !ok {
		return "", fmt.Errorf("unknown camelot position: %q", camelot)
	}
	return key, nil
}

// Distance is the circular distance between two wheel numbers (0-6).
func Distance(a, b Key) int {
	d := a.Number - b.Number
	if d < 0 {
		d = -d
	}
	if 12-d < d {
		d = 12 - d
	}
	return d
}

// Neighbors lists the harmonically adjacent positions of c: the position
// itself, one step either way on the same letter, the A/B partner at the
// same number, and the dominant seven steps up.
func Neighbors(c string) []string {
	k, err := Parse(c)
	if err != nil {
		return nil
	}
	up := wrap(k.Number + 1)
	down := wrap(k.Number - 1)
	dominant := wrap(k.Number + 7)
	other := "B"
	if k.Letter == "B" {
		other = "A"
	}
	return []string{
		k.String(),
		Key{Number: up, Letter: k.Letter}.String(),
		Key{Number: down, Letter: k.Letter}.String(),
		Key{Number: k.Number, Letter: other}.String(),
		Key{Number: dominant, Letter: k.Letter}.String(),
	}
}

// HarmonyScore rates the transition between two Camelot positions:
// 1.0 for the same position, a one-step move on the same letter, or the
// A/B partner; 0.6 for a two-step move or the dominant (seven steps) on
// the same letter; 0.0 for everything else, including unparseable input.
func HarmonyScore(from, to string) float64 {
	a, err1 := Parse(from)
	b, err2 := Parse(to)
	if err1 != nil || err2 != nil {
		return 0
	}
	if a.Number == b.Number {
		return 1.0 // same position or relative major/minor
	}
	d := Distance(a, b)
	if a.Letter != b.Letter {
		return 0
	}
	if d == 1 {
		return 1.0
	}
	if d == 2 || d == 5 { // two steps, or ±7 which wraps to 5
		return 0.6
	}
	return 0
}

// WheelPosition encodes a camelot string as a position in [0,12) on the
// wheel so that 12A and 1A are adjacent. Invalid input maps to 0.
func WheelPosition(c string) float64 {
	k, err := Parse(c)
	if err != nil {
		return 0
	}
	return float64(k.Number - 1)
}

// WheelDistance is a normalised [0,1] distance for the similarity vector:
// the circular number distance scaled to [0,0.8] plus a 0.2 penalty for a
// mode mismatch.
func WheelDistance(a, b string) float64 {
	ka, err1 := Parse(a)
	kb, err2 := Parse(b)
	if err1 != nil || err2 != nil {
		return 1
	}
	d := float64(Distance(ka, kb)) / 6.0 * 0.8
	if ka.Letter != kb.Letter {
		d += 0.2
	}
	return d
}

func wrap(n int) int {
	for n > 12 {
		n -= 12
	}
	for n < 1 {
		n += 12
	}
	return n
}
