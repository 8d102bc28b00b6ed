package market

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultSeason 是卡片页 URL 未带 season 时使用的赛季。
const DefaultSeason = "3"

// ErrNoCardID URL 中没有 card=<数字>。
var ErrNoCardID = errors.New("card id not found in url")

var (
	cardPattern   = regexp.MustCompile(`card=(\d+)`)
	seasonPattern = regexp.MustCompile(`season=(\d+)`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
)

// CardRef 标识一张卡片在某个赛季的成交记录。
type CardRef struct {
	ID     string `json:"cardId"`
	Season string `json:"season"`
}

// ParseCardURL extracts the card id and season from a card page URL such as
// https://www.nationstates.net/page=deck/card=123/season=2.
func ParseCardURL(raw, defaultSeason string) (CardRef, error) {
	m := cardPattern.FindStringSubmatch(raw)
	if m == nil {
		return CardRef{}, ErrNoCardID
	}
	ref := CardRef{ID: m[1], Season: defaultSeason}
	if s := seasonPattern.FindStringSubmatch(raw); s != nil {
		ref.Season = s[1]
	}
	if ref.Season == "" {
		ref.Season = DefaultSeason
	}
	return ref, nil
}

// Validate 检查 id 与 season 均为数字
func (c CardRef) Validate() error {
	if !digitsPattern.MatchString(c.ID) {
		return fmt.Errorf("invalid card id %q", c.ID)
	}
	if !digitsPattern.MatchString(c.Season) {
		return fmt.Errorf("invalid season %q", c.Season)
	}
	return nil
}

// IsZero 未设置卡片
func (c CardRef) IsZero() bool {
	return c.ID == ""
}

func (c CardRef) String() string {
	return fmt.Sprintf("card %s / season %s", c.ID, c.Season)
}
