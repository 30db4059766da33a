package admission

import "pageemu/pkg/domain"

// rotation 轮询环，cursor 指向下一次返回的位置
type rotation struct {
	order  []domain.UserID
	index  map[domain.UserID]int
	cursor int
}

func newRotation() rotation {
	return rotation{index: make(map[domain.UserID]int)}
}

func (r *rotation) len() int { return len(r.order) }

func (r *rotation) add(userID domain.UserID) {
	if _, ok := r.index[userID]; ok {
		return
	}
	r.index[userID] = len(r.order)
	r.order = append(r.order, userID)
}

func (r *rotation) remove(userID domain.UserID) {
	i, ok := r.index[userID]
	if !ok {
		return
	}
	delete(r.index, userID)
	r.order = append(r.order[:i], r.order[i+1:]...)
	for j := i; j < len(r.order); j++ {
		r.index[r.order[j]] = j
	}
	// 保持 cursor 指向原本的下一个用户
	if i < r.cursor {
		r.cursor--
	}
	if r.cursor >= len(r.order) {
		r.cursor = 0
	}
}

func (r *rotation) next() (domain.UserID, bool) {
	if len(r.order) == 0 {
		return "", false
	}
	if r.cursor >= len(r.order) {
		r.cursor = 0
	}
	userID := r.order[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.order)
	return userID, true
}
