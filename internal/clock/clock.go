package clock

import (
	"fmt"
	"time"
)

// Clock 提供固定时区的当前时间。
//
// 所有业务时间比较（槽位是否过期、OTP 是否失效、提醒窗口）都走这里，
// 避免散落的 time.Now() 导致时区不一致。
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type fixedZoneClock struct {
	loc *time.Location
}

// NewFixedZone 创建固定在指定 IANA 时区的时钟。
func NewFixedZone(name string) (Clock, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &fixedZoneClock{loc: loc}, nil
}

func (c *fixedZoneClock) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *fixedZoneClock) Location() *time.Location {
	return c.loc
}
