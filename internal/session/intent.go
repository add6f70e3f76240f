package session

// Intent 是一次用户意图。实现集合是封闭的：只有本包内的类型实现了 isIntent，
// Coordinator.apply 的 type switch 覆盖全部情况。
type Intent interface {
	isIntent()
}

// Send 发送普通消息。
type Send struct{ Text string }

// Action 发送 /me 动作消息。
type Action struct{ Text string }

type Join struct{ Room string }

// Leave 离开房间；Room 为空表示当前房间。
type Leave struct{ Room string }

type SwitchNext struct{}

type Rename struct{ Handle string }

type DeleteRoom struct{ Room string }

type ListRooms struct{}

// Who 列出房间最近的成员；Room 为空表示当前房间。
type Who struct{ Room string }

type Help struct{}

type Quit struct{}

// Unknown 是无法识别的斜杠命令。
type Unknown struct{ Name string }

func (Send) isIntent()       {}
func (Action) isIntent()     {}
func (Join) isIntent()       {}
func (Leave) isIntent()      {}
func (SwitchNext) isIntent() {}
func (Rename) isIntent()     {}
func (DeleteRoom) isIntent() {}
func (ListRooms) isIntent()  {}
func (Who) isIntent()        {}
func (Help) isIntent()       {}
func (Quit) isIntent()       {}
func (Unknown) isIntent()    {}

// ActionPrefix 标记 /me 消息的正文前缀。
const ActionPrefix = "/me "
