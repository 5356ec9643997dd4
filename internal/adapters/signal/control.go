package signal

import "github.com/uppjke/izuchator-sub000/internal/domain"

func (ctl *Controller) handlePing(conn *wsConn) {
	env, err := domain.NewEnvelope(domain.KindPong, nil)
	if err != nil {
		return
	}
	_ = sendJSON(conn, env)
}
