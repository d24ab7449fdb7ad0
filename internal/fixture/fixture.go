// Package fixture holds a static rendition of the messenger layout used by
// tests across the engine.
package fixture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/relocator/internal/dom"
)

// Messenger is a two-pane messenger page: conversation list on the left, the
// open conversation on the right, and the engine's own overlay panel.
const Messenger = `<!DOCTYPE html>
<html><head><title>Messenger</title></head><body>
<div id="app">
	<div id="pane-side" style="left:0;top:0;width:400px;height:800px">
		<div class="search-wrap" style="height:40px">
			<input type="text" data-testid="chat-list-search" placeholder="Pesquisar ou começar uma nova conversa" aria-label="Pesquisar" style="left:10px;width:380px;height:30px">
		</div>
		<div data-testid="chat-list" role="listbox" aria-label="Lista de conversas" style="top:50px;height:700px">
			<div data-testid="cell-frame-container" role="listitem" tabindex="0" class="chat-row" style="height:72px">
				<span title="Ana Souza" dir="auto" class="chat-title">Ana Souza</span>
				<span data-testid="subtitle" class="chat-preview">Vamos almoçar amanhã?</span>
				<span data-testid="icon-unread-count" aria-label="3 mensagens não lidas" style="left:360px;width:20px;height:20px">3</span>
			</div>
			<div data-testid="cell-frame-container" role="listitem" tabindex="0" class="chat-row" style="top:72px;height:72px">
				<span title="Bruno Lima" dir="auto" class="chat-title">Bruno Lima</span>
				<span data-testid="subtitle" class="chat-preview">Enviado o relatório final</span>
			</div>
		</div>
	</div>
	<div id="main" style="left:400px;top:0;width:880px;height:800px">
		<header class="conversation-header" style="height:60px">
			<div data-testid="conversation-info-header" class="header-info" style="width:700px;height:60px">
				<span data-testid="conversation-info-header-chat-title" dir="auto" title="Ana Souza">Ana Souza</span>
			</div>
			<button data-testid="conversation-info-button" aria-label="Dados do perfil" style="left:800px;width:40px;height:40px">i</button>
		</header>
		<div class="panel-wrap" role="application" style="top:60px;height:660px">
			<div data-testid="conversation-panel-messages" role="log" tabindex="0" style="overflow-y:scroll;height:660px">
				<button data-testid="scroll-to-top" aria-label="Carregar mensagens anteriores" style="left:400px;top:10px;width:40px;height:30px">^</button>
				<div data-testid="msg-container" class="message-in" role="row" style="left:10px;top:50px;width:300px;height:60px">
					<span data-testid="msg-text" class="selectable-text">Oi, tudo bem?</span>
					<div data-testid="msg-meta" class="meta" style="top:40px;height:20px"><span data-testid="msg-time">14:30</span></div>
				</div>
				<div data-testid="msg-container" class="message-out" role="row" style="left:560px;top:120px;width:300px;height:60px">
					<span data-testid="msg-text" class="selectable-text">Tudo ótimo!</span>
					<div data-testid="msg-meta" class="meta" style="top:40px;height:20px">
						<span data-testid="msg-time">14:31</span>
						<span data-testid="msg-status" data-icon="msg-dblcheck" style="left:280px;width:16px;height:16px">✓✓</span>
					</div>
				</div>
			</div>
		</div>
		<footer style="top:720px;height:80px">
			<div data-testid="typing" aria-label="Ana está digitando" class="typing" style="height:16px">digitando...</div>
			<button data-testid="attach" aria-label="Anexar" style="left:10px;top:20px;width:40px;height:40px">+</button>
			<div data-testid="conversation-compose-box-input" contenteditable="true" role="textbox" aria-label="Digitar na conversa com Ana Souza" style="left:60px;top:20px;width:720px;height:40px"></div>
			<button data-testid="send" aria-label="Enviar" style="left:800px;top:20px;width:40px;height:40px">&gt;</button>
		</footer>
	</div>
</div>
<div id="relocator-panel" class="relocator-overlay" style="left:1000px;top:500px;width:250px;height:200px">
	<button class="relocator-btn" data-testid="send">Enviar</button>
	<span data-testid="msg-text">Scan complete</span>
</div>
</body></html>`

// Document parses html, failing the test on error.
func Document(tb testing.TB, html string, opts ...dom.Option) *dom.Document {
	tb.Helper()
	doc, err := dom.ParseString(html, opts...)
	require.NoError(tb, err)
	return doc
}

// Page parses Messenger.
func Page(tb testing.TB, opts ...dom.Option) *dom.Document {
	tb.Helper()
	return Document(tb, Messenger, opts...)
}

// Redesigned returns Messenger after a UI release that renamed every test
// attribute, which breaks selectors built on them.
func Redesigned() string {
	return strings.NewReplacer(
		`data-testid="`, `data-qa="`,
	).Replace(Messenger)
}
