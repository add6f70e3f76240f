// Package realtime delivers new-message notifications from the store to the session.
package realtime

import "encoding/json"

// TypeMessage 是唯一被识别的通知类型。
const TypeMessage = "msg"

// Event 表示某个房间里出现了一条新消息。
type Event struct {
	RoomID int64
	ID     int64
}

type payload struct {
	Type   string `json:"type"`
	RoomID *int64 `json:"room_id"`
	ID     *int64 `json:"id"`
}

// ParsePayload 解析 {"type":"msg","room_id":N,"id":N}。格式错误、字段缺失或类型未知时 ok 为 false。
func ParsePayload(b []byte) (Event, bool) {
	var p payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Event{}, false
	}
	if p.Type != TypeMessage || p.RoomID == nil || p.ID == nil {
		return Event{}, false
	}
	return Event{RoomID: *p.RoomID, ID: *p.ID}, true
}

// EncodePayload 生成与数据库触发器相同格式的通知。
func EncodePayload(ev Event) ([]byte, error) {
	return json.Marshal(payload{Type: TypeMessage, RoomID: &ev.RoomID, ID: &ev.ID})
}
