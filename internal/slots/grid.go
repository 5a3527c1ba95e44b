package slots

import (
	"strconv"
	"strings"
	"time"

	"github.com/NishanthMohanan/serveq1/internal/apperr"
)

// TimeLabelLayout 是对外展示槽位时刻的 12 小时制格式。
const TimeLabelLayout = "03:04 PM"

// DateLayout 是请求里日历日期的格式。
const DateLayout = "2006-01-02"

// WorkingHours 定义一天的可预约区间与步长。
type WorkingHours struct {
	Start           string // "HH:MM"
	End             string // "HH:MM"
	IntervalMinutes int
}

// Slot 是网格里的一个槽位。
type Slot struct {
	Start      time.Time `json:"-"`
	StartLabel string    `json:"start"`
	EndLabel   string    `json:"end"`
	IsBooked   bool      `json:"is_booked"`
	IsBookable bool      `json:"is_bookable"`
}

// StartSet 记录已被 ACTIVE 预约占用的起始时刻，按 Unix 秒比较。
type StartSet map[int64]struct{}

func (s StartSet) Add(t time.Time) {
	s[t.Unix()] = struct{}{}
}

func (s StartSet) Has(t time.Time) bool {
	_, ok := s[t.Unix()]
	return ok
}

// Generate 推导指定日期的槽位网格。
//
// 纯函数：相同的 (date, wh, booked, now) 永远产出相同的序列。
// 从 start 起按 interval 步进，只要槽位的起点早于 end 就纳入，
// 因此网格不整除时最后一个槽位可以越过 end；end <= start 产出空网格。
func Generate(date string, wh WorkingHours, booked StartSet, now time.Time, loc *time.Location) ([]Slot, error) {
	startHour, startMin, err := parseHourMinute(wh.Start)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidConfig, "invalid working hours")
	}
	endHour, endMin, err := parseHourMinute(wh.End)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidConfig, "invalid working hours")
	}
	if wh.IntervalMinutes <= 0 {
		return nil, apperr.New(apperr.KindInvalidConfig, "invalid slot interval")
	}

	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return nil, apperr.New(apperr.KindInvalidDateTime, "invalid date")
	}

	current := time.Date(day.Year(), day.Month(), day.Day(), startHour, startMin, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), endHour, endMin, 0, 0, loc)
	step := time.Duration(wh.IntervalMinutes) * time.Minute

	grid := []Slot{}
	for current.Before(end) {
		next := current.Add(step)
		isBooked := booked.Has(current)
		grid = append(grid, Slot{
			Start:      current,
			StartLabel: current.Format(TimeLabelLayout),
			EndLabel:   next.Format(TimeLabelLayout),
			IsBooked:   isBooked,
			IsBookable: current.After(now) && !isBooked,
		})
		current = next
	}
	return grid, nil
}

func parseHourMinute(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, strconv.ErrSyntax
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, strconv.ErrRange
	}
	return hour, minute, nil
}
