// Package application contém os casos de uso (regras de aplicação) para
// admissão multi-tier, estatísticas de uso e acesso ao serviço de IA.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Admit(id) retorna uma Decision (allow/deny + retry-after) e um undo.
package application
