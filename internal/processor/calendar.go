package processor

import (
	"fmt"
	"net/url"
	"time"

	"scholar-ai-go/internal/types"
)

const calendarEndpoint = "https://www.google.com/calendar/render"

const calendarDateLayout = "20060102"

// CalendarLink 生成行动项的日历事件创建链接，全天事件落在该周最后一天
// anchor 为计划生成当天；截止日期已知时事件不晚于截止日前一天，且不早于 today
func CalendarLink(item types.ActionItem, opp types.Opportunity, anchor, today time.Time) string {
	week := max(item.Week, 1)
	event := DateOf(anchor).AddDate(0, 0, 7*week-1)

	if deadline, ok := ParseDeadline(opp.Deadline); ok {
		if last := deadline.AddDate(0, 0, -1); event.After(last) {
			event = last
		}
	}
	if t := DateOf(today); event.Before(t) {
		event = t
	}

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", item.Task)
	q.Set("dates", event.Format(calendarDateLayout)+"/"+event.AddDate(0, 0, 1).Format(calendarDateLayout))
	q.Set("details", fmt.Sprintf("Task for %s. Deadline: %s. More info: %s", opp.Name, opp.Deadline, opp.URL))
	return calendarEndpoint + "?" + q.Encode()
}
