/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package ipfix implements the IP Flow Information Export protocol, RFC 7011,
and its companion RFCs.

# Overview

The IPFIX message format is defined in RFC 7011. This package implements
decoding and encoding of messages adhering to that RFC, plus

- RFC 5103: Bidirectional Flow Export Using IPFIX

- RFC 5610: Exporting Type Information for IPFIX Information Elements

- RFC 5655: Specification of the IPFIX File Format

- RFC 6313: Export of Structured Data in IPFIX

# Components

An InformationModel is the registry of Information Elements (field
definitions) an implementation knows about, loadable from the bundled IANA
registry subset or from a CSV, XML, or YAML export. A Template describes
the ordered list of Information Elements (and, for reduced-length
encoding, their wire widths) making up one kind of record; Templates are
reference-counted since many Data Records and, via RFC 6313, nested
structured data may all point at the same one.

A Session is the stateful context bound to one InformationModel: it owns
the external template table (what an Exporter has advertised on the
wire, per observation domain), any internal templates a caller registered
to decode into, the pair map associating the two, and the per-domain
sequence number. A MessageBuffer is the component both Exporters and
Collectors actually drive against a Session: on the write side, Append
queues Data Records and SetExportTemplate queues Templates, and Emit
flushes one complete Message; on the read side, NextMessage decodes one
Message, folding any Template Sets it finds into the Session and
transcoding Data Records into whichever internal Template, if any, was
paired with their external one via SetInternalTemplate. A Transcoder
carries out that translation field-by-field, matching Information
Elements by FieldKey rather than by position.

Every value decoded from a field implements the DataType interface;
RFC 6313's BasicList, SubTemplateList, and SubTemplateMultiList let a
Data Record recursively nest records built from a different Template than
their containing Data Set.

RFC 7011 decouples a record's semantics (the Template) from its bytes,
so a Collector cannot decode a Data Set before it has seen the Set's
Template. NextMessage surfaces this as a KindMissingTemplate error
without aborting the rest of the Message; this package does not itself
queue undecodable Data Records against a later-arriving Template, leaving
that policy to callers (e.g. retaining the raw Set bytes until the next
Template Set resolves them).

# Transports and persistence

TCPCollector/TCPExporter and UDPCollector/UDPExporter provide one
concrete transport per direction, matching how an Exporter sends a
bounded sequence of Messages over either a single long-lived TCP
connection or one UDP datagram per Message. FileWriter/FileReader persist
or replay that same Message sequence to/from an RFC 5655 file, which is
simply messages concatenated with no additional framing.
*/
package ipfix
