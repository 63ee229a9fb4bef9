// Package config carrega a configuração do gateway: arquivo YAML opcional,
// sobrescrito por variáveis de ambiente, com defaults e validação.
//
// A configuração é montada uma vez na inicialização e repassada aos
// componentes; nada lê variáveis globais depois disso.
package config
